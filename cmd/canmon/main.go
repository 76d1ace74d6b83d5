package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/open-can/canmon"
)

var (
	interfaces   = flag.String("interfaces", "", "comma separated CAN interfaces (can0,slcan:/dev/ttyUSB0,virtual:host:port)")
	edsDir       = flag.String("eds-dir", "", "directory of EDS/DCF files, one per node")
	httpAddr     = flag.String("http", "", "serve the status API on this address (e.g. :8080)")
	mqttBroker   = flag.String("mqtt", "", "publish decoded messages to this MQTT broker")
	staleTimeout = flag.Duration("stale", 0, "mark a message stale after this long without an update")
	deadTimeout  = flag.Duration("dead", 0, "mark a message dead after this long without an update")
	verbose      = flag.Bool("v", false, "debug logging")
)

func main() {
	flag.Parse()
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	config := canmon.LoadConfig()
	if *interfaces != "" {
		config.Interfaces = strings.Split(*interfaces, ",")
	}
	if *edsDir != "" {
		config.EDSDir = *edsDir
	}
	if *httpAddr != "" {
		config.HTTPAddr = *httpAddr
	}
	if *mqttBroker != "" {
		config.MQTTBroker = *mqttBroker
	}
	if *staleTimeout > 0 {
		config.StaleTimeout = *staleTimeout
	}
	if *deadTimeout > 0 {
		config.DeadTimeout = *deadTimeout
	}
	if err := config.Validate(); err != nil {
		log.Fatal(err)
	}

	dicts := canmon.NewDictionaryStore()
	if config.EDSDir != "" {
		var err error
		dicts, err = canmon.LoadEDSDir(config.EDSDir)
		if err != nil {
			log.Fatalf("loading EDS directory %v : %v", config.EDSDir, err)
		}
	}

	mux, err := canmon.NewMux(config.Interfaces)
	if err != nil {
		log.Fatal(err)
	}
	if err := mux.Start(); err != nil {
		log.Fatal(err)
	}
	defer mux.Shutdown()

	parser := canmon.NewParser(dicts, config.SDOTimeout, config.StaleTimeout, config.DeadTimeout)
	table := canmon.NewMessageTable(config.TableCapacity)

	var publisher *canmon.Publisher
	if config.MQTTBroker != "" {
		publisher, err = canmon.NewPublisher(config.MQTTBroker, "canmon", config.MQTTTopic)
		if err != nil {
			log.Fatalf("mqtt : %v", err)
		}
		defer publisher.Close()
	}

	if config.HTTPAddr != "" {
		gateway := canmon.NewGateway(mux, table)
		go func() {
			if err := gateway.Listen(config.HTTPAddr); err != nil {
				log.Errorf("[GATEWAY] %v", err)
			}
		}()
		defer gateway.Close()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	display := time.NewTicker(time.Second)
	defer display.Stop()

	log.Infof("monitoring %v", config.Interfaces)
	for {
		select {
		case <-signals:
			log.Info("signal received, shutting down")
			return
		case <-display.C:
			printTable(table, mux)
		default:
		}

		frame, ok := mux.Poll()
		if !ok {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		msg := parser.Decode(frame)
		table.Add(msg)
		if publisher != nil {
			if err := publisher.Publish(&msg); err != nil {
				log.Warnf("[MQTT] publish : %v", err)
			}
		}
		if *verbose {
			log.Debugf("[%s] x%03X %v : %v", msg.Interface, msg.ID, msg.Type, msg.Description)
		}
	}
}

func printTable(table *canmon.MessageTable, mux *canmon.Mux) {
	now := time.Now()
	fmt.Printf("-- %v | interfaces up: %v | queued: %d --\n",
		now.Format("15:04:05"), mux.ActiveInterfaces(), mux.QueueLen())
	for _, msg := range table.Snapshot() {
		fmt.Printf("%-6s x%03X %-12s node %3d  %s\n",
			msg.Status(now), msg.ID, msg.Type, msg.Node, msg.Description)
	}
}
