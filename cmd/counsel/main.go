// Command counsel is a relationship advice assistant.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logrus.New()
	if err := newRootCmd(log, os.Getenv).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
