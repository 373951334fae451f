// Command replay runs a recorded trade tape through the detection pipeline and prints
// the resulting alerts ranked by peak score. The same tape always yields the same
// output.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"InsiderWatch/internal/di"
	"InsiderWatch/internal/domain/models"
	mid "InsiderWatch/internal/middleware"
	"InsiderWatch/pkg/config"
	"InsiderWatch/pkg/logger"
	"InsiderWatch/pkg/metrics"
	xutil "InsiderWatch/pkg/util"
)

type output struct {
	Events       int                      `json:"events"`
	Dispositions map[string]int           `json:"dispositions"`
	Alerts       []*models.Alert          `json:"alerts"`
	Transitions  []models.AlertTransition `json:"transitions,omitempty"`
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	tradesPath := flag.String("trades", "", "JSONL file of trade events")
	disclosuresPath := flag.String("disclosures", "", "optional JSONL file of disclosure events")
	asOf := flag.String("as-of", "", "expire alerts silent as of this instant before printing")
	withTransitions := flag.Bool("transitions", false, "include the alert transition log")
	flag.Parse()

	if *tradesPath == "" {
		log.Fatal("-trades is required")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if err := run(cfg, *tradesPath, *disclosuresPath, *asOf, *withTransitions, os.Stdout); err != nil {
		log.Fatalf("replay failed: %v", err)
	}
}

func run(cfg *config.Config, tradesPath, disclosuresPath, asOf string, withTransitions bool, w io.Writer) error {
	ctx := context.Background()
	l, err := di.ProvideLogger(cfg)
	if err != nil {
		return err
	}
	m := metrics.Nop{}

	seen, err := di.ProvideSeenStore(nil)
	if err != nil {
		return err
	}
	windows, err := di.ProvideWindowStore(cfg)
	if err != nil {
		return err
	}
	src, cleanup, err := di.ProvideMetadataSource(cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	holder := di.ProvideMetadataHolder(src, l)
	if _, err := holder.Reload(ctx); err != nil {
		return err
	}
	engine, err := di.ProvideFeatureEngine(cfg, windows, holder)
	if err != nil {
		return err
	}
	scorer, err := di.ProvideScorer(cfg, l)
	if err != nil {
		return err
	}
	registry, err := di.ProvideAlertRegistry(cfg)
	if err != nil {
		return err
	}
	proc := di.ProvideEventProcessor(cfg, di.ProvideNormalizer(cfg, seen), windows, engine, scorer, registry, holder, m, l)

	if disclosuresPath != "" {
		err := readJSONL(disclosuresPath, func(b []byte) error {
			var raw models.RawDisclosureEvent
			if err := json.Unmarshal(b, &raw); err != nil {
				return err
			}
			if _, _, err := proc.ProcessDisclosure(&raw); err != nil {
				l.Warn("disclosure skipped", logger.String("disclosure_id", raw.DisclosureID), logger.Error(err))
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("disclosures: %w", err)
		}
	}

	tally := &tally{counts: map[string]int{}}
	pipeline := mid.NewPipeline(proc, tally, m, l,
		mid.WithPartitions(cfg.Pipeline.Partitions),
		mid.WithQueueDepth(cfg.Pipeline.QueueDepth),
	)
	pipeline.Start(ctx)

	events := 0
	err = readJSONL(tradesPath, func(b []byte) error {
		var raw models.RawTradeEvent
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		events++
		return pipeline.Enqueue(ctx, &raw)
	})
	pipeline.Close()
	if err != nil {
		return fmt.Errorf("trades: %w", err)
	}

	if asOf != "" {
		t, ok := xutil.ParseTime(asOf)
		if !ok {
			return fmt.Errorf("invalid -as-of %q", asOf)
		}
		registry.Sweep(t)
	}

	out := output{Events: events, Dispositions: tally.counts, Alerts: registry.All("")}
	if withTransitions {
		out.Transitions = registry.Drain()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// tally counts terminal dispositions by state.
type tally struct {
	mu     sync.Mutex
	counts map[string]int
}

func (t *tally) Collect(res models.EventResult) {
	if !res.Disposition.State.Terminal() {
		return
	}
	t.mu.Lock()
	t.counts[string(res.Disposition.State)]++
	t.mu.Unlock()
}

func readJSONL(path string, fn func([]byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		if err := fn(b); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return sc.Err()
}
