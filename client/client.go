// File: client/client.go
// Package client implements the load-generating benchmark client.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// One client opens one connection, sends Cycles random arrays paced by Delta
// and times each response against its send timestamp by id.

package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/momentics/sortbench/api"
	"github.com/momentics/sortbench/control"
	"github.com/momentics/sortbench/core/protocol"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrUnsorted is reported by a verifying client that received a response
// whose elements are not ascending.
var ErrUnsorted = errors.New("response is not sorted")

// Config describes one benchmark client.
type Config struct {
	Addr      string              // server host:port
	StartID   int32               // first request id; ids increase by one
	ArraySize int                 // elements per request
	Delta     time.Duration       // minimum time between two sends
	Cycles    int                 // number of requests
	Stats     *control.Statistics // receives client-domain samples, may be nil
	Logger    *zap.Logger
	Verify    bool  // check every response for sortedness and length
	Seed      int64 // 0 picks a time-based seed
}

func (c *Config) validate() error {
	switch {
	case c.Addr == "":
		return api.NewError(api.ErrCodeInvalidArgument, "client: empty address")
	case c.ArraySize < 0:
		return api.NewError(api.ErrCodeInvalidArgument, "client: negative array size").
			WithContext("array_size", c.ArraySize)
	case c.Cycles < 0:
		return api.NewError(api.ErrCodeInvalidArgument, "client: negative cycles").
			WithContext("cycles", c.Cycles)
	case c.Delta < 0:
		return api.NewError(api.ErrCodeInvalidArgument, "client: negative delta").
			WithContext("delta", c.Delta)
	}
	return nil
}

// Run executes the client until all Cycles responses arrived, the connection
// fails or ctx is cancelled. On return the statistics are stopped so that
// samples of clients still running are excluded from the aggregate.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.Int32("start_id", cfg.StartID))
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano() + int64(cfg.StartID)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return api.WrapError(api.ErrCodeConnectionIO, "client dial", err).WithContext("addr", cfg.Addr)
	}
	defer conn.Close()
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { _ = conn.Close() })
	defer stop()

	var starts sync.Map // int32 -> time.Time
	g.Go(func() error {
		return send(gctx, conn, cfg, rand.New(rand.NewSource(seed)), &starts)
	})
	g.Go(func() error {
		return receive(bufio.NewReader(conn), cfg, &starts)
	})
	err = g.Wait()
	if cfg.Stats != nil {
		cfg.Stats.Stop()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		log.Debug("client failed", zap.Error(err))
		return err
	}
	log.Debug("client finished", zap.Int("cycles", cfg.Cycles))
	return nil
}

func send(ctx context.Context, w io.Writer, cfg Config, rng *rand.Rand, starts *sync.Map) error {
	rec := protocol.Record{Elements: make([]int32, cfg.ArraySize)}
	buf := make([]byte, 0, protocol.LengthPrefixSize+5*cfg.ArraySize+16)
	for k := 0; k < cfg.Cycles; k++ {
		rec.ID = cfg.StartID + int32(k)
		for i := range rec.Elements {
			rec.Elements[i] = int32(rng.Uint32())
		}
		buf = protocol.AppendFrame(buf[:0], &rec)

		begin := time.Now()
		starts.Store(rec.ID, begin)
		if _, err := w.Write(buf); err != nil {
			return api.WrapError(api.ErrCodeConnectionIO, "client send", err).WithContext("id", rec.ID)
		}
		if k == cfg.Cycles-1 {
			break
		}
		if pause := cfg.Delta - time.Since(begin); pause > 0 {
			t := time.NewTimer(pause)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	return nil
}

func receive(r io.Reader, cfg Config, starts *sync.Map) error {
	for k := 0; k < cfg.Cycles; k++ {
		rec, err := protocol.ReadFrame(r, 0)
		if err != nil {
			return api.WrapError(api.ErrCodeConnectionIO, "client receive", err).WithContext("received", k)
		}
		v, ok := starts.LoadAndDelete(rec.ID)
		if !ok {
			return api.NewError(api.ErrCodeInternal, "client: response for unknown id").WithContext("id", rec.ID)
		}
		if cfg.Stats != nil {
			cfg.Stats.AddMeasurementClient(time.Since(v.(time.Time)))
		}
		if cfg.Verify {
			if len(rec.Elements) != cfg.ArraySize {
				return fmt.Errorf("id %d: got %d elements, want %d: %w",
					rec.ID, len(rec.Elements), cfg.ArraySize, ErrUnsorted)
			}
			if !slices.IsSorted(rec.Elements) {
				return fmt.Errorf("id %d: %w", rec.ID, ErrUnsorted)
			}
		}
	}
	return nil
}
