package main

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// WorkerCmd runs only the asynchronous side of the command pipeline.
type WorkerCmd struct {
	NoSweeper bool `help:"Do not run the stale-command sweeper." env:"DOMUS_NO_SWEEPER"`
}

func (c *WorkerCmd) Run(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	var wg sync.WaitGroup
	if !c.NoSweeper {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.sweeper().Run(ctx)
		}()
	}

	err = a.worker().Run(ctx)
	wg.Wait()
	if err != nil {
		log.Error().Err(err).Msg("worker exited")
	}
	return err
}
