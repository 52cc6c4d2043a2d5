package shutdown

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// DefaultSignals are the termination-class signals that stop the run.
var DefaultSignals = []os.Signal{
	os.Interrupt,
	syscall.SIGTERM,
	syscall.SIGHUP,
	syscall.SIGABRT,
}

// Notify forwards each delivered signal to gate.RequestStop.
// Signals are received on a dedicated goroutine, so logging here is safe.
// The returned function unregisters the handlers and waits for the
// forwarding goroutine to exit.
func Notify(gate *Gate, logger *slog.Logger, signals ...os.Signal) (stop func()) {
	if len(signals) == 0 {
		signals = DefaultSignals
	}

	ch := make(chan os.Signal, len(signals))
	signal.Notify(ch, signals...)
	for _, sig := range signals {
		logger.Debug("installed signal handler", "signal", sig.String())
	}

	quit := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		for {
			select {
			case sig := <-ch:
				logger.Info("signal received, stopping gracefully", "signal", sig.String())
				gate.RequestStop(sig.String())
			case <-quit:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(quit)
		<-exited
	}
}
