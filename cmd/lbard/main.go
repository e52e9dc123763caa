// Command lbard runs the low-bandwidth asynchronous bundle synchronizer
// main loop: it ticks the broadcast scheduler, refreshes the local bundle
// inventory, and drains both the radio link and the message-file inbox
// (spec §4.8).
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	lbard "github.com/samsamfire/lbard"
)

const (
	tickInterval          = 10 * time.Millisecond
	inventoryRefreshEvery = 3 * time.Second
	messageUpdateInterval = 875 * time.Millisecond
	summaryEvery          = time.Second
	serialBaud            = 115200
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: lbard <store-endpoint> <credential> <my-sid-hex> <serial-port> [monitor] [pieces]")
	}
	flag.Parse()
	args := flag.Args()
	if len(args) < 4 {
		flag.Usage()
		os.Exit(1)
	}

	storeEndpoint, credential, sidHex, serialPath := args[0], args[1], args[2], args[3]
	var monitor, pieces bool
	for _, a := range args[4:] {
		switch a {
		case "monitor":
			monitor = true
		case "pieces":
			pieces = true
		}
	}

	self, err := parseSIDPrefix(sidHex)
	if err != nil {
		fmt.Fprintln(os.Stderr, "lbard:", err)
		os.Exit(1)
	}

	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)
	if pieces {
		log.SetLevel(logrus.DebugLevel)
	}
	slogger := slog.New(newLogrusHandler(log))
	entry := logrus.NewEntry(log)

	serial, err := openSerial(serialPath, serialBaud)
	if err != nil {
		entry.WithError(err).Error("failed to open serial port")
		os.Exit(1)
	}
	defer serial.Close()

	cwd, err := os.Getwd()
	if err != nil {
		entry.WithError(err).Error("failed to resolve working directory")
		os.Exit(1)
	}
	inbox := newInboxWatcher(cwd, entry)

	engine := lbard.NewEngine(lbard.EngineConfig{
		Self:          self,
		Store:         newHTTPStoreClient(storeEndpoint, credential),
		Logger:        slogger,
		Rand:          rand.New(rand.NewSource(time.Now().UnixNano())),
		Monitor:       monitor,
		VerbosePieces: pieces,
	})

	runLoop(engine, serial, inbox, entry)
}

// runLoop is the single-threaded cooperative tick of spec §4.8. It never
// returns under normal operation; exit codes only ever occur on the
// startup failures handled in main.
func runLoop(engine *lbard.Engine, serial *serialPort, inbox *inboxWatcher, log *logrus.Entry) {
	var (
		lastInventoryRefresh time.Time
		nextPacing           = time.Now()
		lastSummary          time.Time
		framesSent           int
		framesReceived       int
	)

	readBuf := make([]byte, lbard.LinkMTU)

	for {
		now := time.Now()

		if now.Sub(lastInventoryRefresh) >= inventoryRefreshEvery {
			if err := engine.RefreshInventory(context.Background(), inventoryRefreshEvery); err != nil {
				log.WithError(err).Debug("inventory refresh failed")
			}
			lastInventoryRefresh = now
		}

		for _, frame := range inbox.Drain() {
			if err := engine.HandleFrame(frame, now); err != nil {
				log.WithError(err).Debug("inbox message not fully applied")
			}
			framesReceived++
		}

		if data, err := serial.ReadNonBlocking(readBuf); err != nil {
			log.WithError(err).Debug("serial read failed")
		} else if data != nil {
			if err := engine.HandleFrame(data, now); err != nil {
				log.WithError(err).Debug("frame not fully applied")
			}
			framesReceived++
		}

		if !now.Before(nextPacing) {
			if frame, ok := engine.NextOutgoingFrame(now); ok {
				if err := serial.Write(frame); err != nil {
					log.WithError(err).Warn("serial write failed")
				} else {
					framesSent++
				}
			}
			nextPacing = now.Add(engine.PacingInterval(messageUpdateInterval))
		}

		if now.Sub(lastSummary) >= summaryEvery {
			log.WithFields(logrus.Fields{
				"peers":    engine.PeerCount(),
				"partials": engine.InFlightPartialCount(),
				"sent":     framesSent,
				"received": framesReceived,
			}).Info("progress")
			framesSent, framesReceived = 0, 0
			lastSummary = now
		}

		time.Sleep(tickInterval)
	}
}

func parseSIDPrefix(sidHex string) (lbard.SIDPrefix, error) {
	var self lbard.SIDPrefix
	raw, err := hex.DecodeString(sidHex)
	if err != nil {
		return self, fmt.Errorf("invalid SID hex %q: %w", sidHex, err)
	}
	if len(raw) != lbard.SIDPrefixLen {
		return self, fmt.Errorf("SID hex %q must decode to %d bytes, got %d", sidHex, lbard.SIDPrefixLen, len(raw))
	}
	copy(self[:], raw)
	return self, nil
}
