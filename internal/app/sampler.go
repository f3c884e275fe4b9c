package app

import (
	"log"
	"time"

	"github.com/relabs-tech/presence_fusion/internal/config"
	"github.com/relabs-tech/presence_fusion/internal/radar"
)

// openSource picks the raw-sample source: the serial-attached CSI front end
// when a port is configured, otherwise the mock source so the stack can run
// without hardware.
func openSource(cfg *config.Config) (radar.Source, bool, error) {
	if cfg.SampleSerialPort == "" {
		log.Println("sampler: no serial port configured, using mock source")
		return radar.NewMockSource(), true, nil
	}

	src, err := radar.NewSerialSource(cfg.SampleSerialPort, uint(cfg.SampleBaudRate))
	if err != nil {
		return nil, false, err
	}
	log.Printf("sampler: reading CSI metrics from %s at %d baud", cfg.SampleSerialPort, cfg.SampleBaudRate)
	return src, false, nil
}

// runSampler pumps raw samples from the source into fn. A serial source
// paces itself on line arrival; the mock source is paced by a ticker.
func runSampler(src radar.Source, mock bool, fn func(radar.Sample)) {
	cfg := config.Get()

	if mock {
		ticker := time.NewTicker(time.Duration(cfg.SampleInterval) * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			s, err := src.Next()
			if err != nil {
				log.Printf("sampler: mock source error: %v", err)
				continue
			}
			fn(s)
		}
		return
	}

	for {
		s, err := src.Next()
		if err != nil {
			log.Printf("sampler: front end read error: %v", err)
			return
		}
		fn(s)
	}
}
