package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/BearBump/PharmBox/internal/api/pharmapi"
	"github.com/BearBump/PharmBox/internal/broker/messages"
	"github.com/BearBump/PharmBox/internal/services/notifications"
	"github.com/pkg/errors"
)

type pharmAPIOpts struct {
	httpAddr string

	topic         string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

func runPharmAPI(ctx context.Context, opts pharmAPIOpts, api *pharmapi.API, ntf *notifications.Service, consumer kafkaConsumer) error {
	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{Handler: api.Routes()}
	httpErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", lis.Addr().String())
		httpErr <- srv.Serve(lis)
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
		_ = consumer.Consume(ctx, func(_key, value []byte) error {
			var m messages.NotificationQueued
			if err := json.Unmarshal(value, &m); err != nil {
				return err
			}
			return ntf.ApplyQueued(ctx, m)
		})
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		if errors.Is(err, http.ErrServerClosed) && ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
}
