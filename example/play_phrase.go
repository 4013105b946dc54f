package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/snisim/pytakt/internal/logger"
	"github.com/snisim/pytakt/sdk/contracts"
	"github.com/snisim/pytakt/sdk/midiio"
)

func main() {
	log := logger.NewZapLogger()

	engine, err := midiio.New(
		contracts.WithLogger(log),
		contracts.WithLogLevel(contracts.InfoLevel),
		contracts.WithClientName("pytakt example"),
	)
	if err != nil {
		log.Error("failed to initialize MIDI engine", log.Field().Error("error", err))
		return
	}
	defer engine.Shutdown()

	fmt.Println("Output devices:", engine.OutputDevices())
	dev := engine.DefaultOutputDevice()
	if dev < 0 {
		fmt.Println("no output device available; playing into the void")
		dev = midiio.DeviceDummy
	}
	if err := engine.OpenOutputDevice(dev); err != nil {
		log.Error("failed to open output device", log.Field().Error("error", err))
		return
	}

	// A short C-major phrase; the second half runs at 60 bpm.
	notes := []byte{60, 64, 67, 72, 67, 64, 60, 64}
	base := engine.CurrentTime()
	for i, n := range notes {
		at := base + float64(i)*480
		engine.QueueMessage(dev, at, 0, []byte{0x90, n, 100})
		engine.QueueMessage(dev, at+400, 0, []byte{0x90, n, 0})
	}
	engine.QueueMessage(dev, base+4*480, 0, []byte{0xff, 0x51, 0x0f, 0x42, 0x40})

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt)
	fmt.Println("Playing... press Ctrl-C to stop.")
	<-sigc
	engine.Stop()
}
