package costing

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func BenchmarkBOMResolverCompute(b *testing.B) {
	c := batchCatalog()
	ctx := context.Background()
	b.ReportAllocs()
	for b.Loop() {
		if _, err := NewBOMResolver(c, testDay).Compute(ctx, 3); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRunDay(b *testing.B) {
	c := batchCatalog()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := NewEngine(c, newMemoryStore(), Options{Concurrency: 4}, logger, nil)
	ctx := context.Background()
	production := dayProduction()
	b.ReportAllocs()
	for b.Loop() {
		if _, err := e.RunDay(ctx, BatchRequest{Day: testDay, Production: production}); err != nil {
			b.Fatal(err)
		}
	}
}
