package server

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github/chapool/tiered-custody/internal/api"
	"github/chapool/tiered-custody/internal/events"
	"golang.org/x/sync/errgroup"
)

const (
	serviceGas        = "gas"
	serviceSweep      = "sweep"
	serviceWithdrawal = "withdrawal"
	serviceReconcile  = "reconcile"

	subscribeRetryDelay = 5 * time.Second
)

var allServices = []string{serviceGas, serviceSweep, serviceWithdrawal, serviceReconcile}

type subscriber interface {
	Dispatch(ctx context.Context, sig events.Signal) error
	Channels() []events.Channel
}

func parseServices(raw []string) ([]string, error) {
	seen := make(map[string]bool, len(raw))
	services := make([]string, 0, len(raw))

	for _, name := range raw {
		switch name {
		case serviceGas, serviceSweep, serviceWithdrawal, serviceReconcile:
		default:
			return nil, errors.Errorf("unknown service %q", name)
		}

		if !seen[name] {
			seen[name] = true
			services = append(services, name)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("no service selected")
	}

	return services, nil
}

// runControllers blocks until ctx is done or one of the long-running loops fails.
func runControllers(ctx context.Context, s *api.Server, services []string) error {
	g, ctx := errgroup.WithContext(ctx)

	// scheduled controllers add no goroutine of their own
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	for _, name := range services {
		switch name {
		case serviceGas:
			subscribe(ctx, g, s.Bus, name, s.Gas)
			s.Gas.StartMonitoring(ctx, s.Config.Gas.MonitorInterval)
			defer s.Gas.StopMonitoring()
		case serviceSweep:
			subscribe(ctx, g, s.Bus, name, s.Sweep)
			s.Sweep.StartMonitoring(ctx, s.Config.Sweep.MonitorInterval)
			defer s.Sweep.StopMonitoring()
		case serviceWithdrawal:
			subscribe(ctx, g, s.Bus, name, s.Withdraw)
			s.Withdraw.Start(ctx)
			defer s.Withdraw.Stop()
			g.Go(func() error {
				return s.Deposit.Run(ctx)
			})
		case serviceReconcile:
			s.Reconcile.Start(ctx)
			defer s.Reconcile.Stop()
		}
	}

	return g.Wait()
}

func subscribe(ctx context.Context, g *errgroup.Group, bus events.Bus, name string, sub subscriber) {
	g.Go(func() error {
		for {
			err := bus.Subscribe(ctx, sub.Dispatch, sub.Channels()...)
			if ctx.Err() != nil {
				return nil
			}

			log.Error().Err(err).Str("service", name).Dur("retryIn", subscribeRetryDelay).Msg("Subscription ended, retrying")

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(subscribeRetryDelay):
			}
		}
	})
}
