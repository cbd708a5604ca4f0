package resilience

import (
	"context"
	"errors"
	"testing"

	embmock "github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/provider/embeddings/mock"
)

func TestEmbeddingsFallback_Failover(t *testing.T) {
	t.Parallel()
	primary := &embmock.Provider{Err: errors.New("rate limited"), ModelIDValue: "m", DimensionsValue: 8}
	secondary := &embmock.Provider{ModelIDValue: "m", DimensionsValue: 8}

	fb := NewEmbeddingsFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	if !fb.AddFallback("secondary", secondary) {
		t.Fatal("compatible fallback rejected")
	}

	vec, err := fb.Embed(context.Background(), "나라사랑 분실")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 8 {
		t.Fatalf("len(vec) = %d, want 8", len(vec))
	}
	vecs, err := fb.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil || len(vecs) != 2 {
		t.Fatalf("EmbedBatch = %d vectors, %v", len(vecs), err)
	}
	if fb.Dimensions() != 8 || fb.ModelID() != "m" {
		t.Errorf("Dimensions/ModelID = %d/%q", fb.Dimensions(), fb.ModelID())
	}
}

func TestEmbeddingsFallback_RejectsOtherVectorSpace(t *testing.T) {
	t.Parallel()
	primary := &embmock.Provider{ModelIDValue: "text-embedding-3-small", DimensionsValue: 1536}
	fb := NewEmbeddingsFallback(primary, "primary", FallbackConfig{})

	if fb.AddFallback("other-model", &embmock.Provider{ModelIDValue: "nomic", DimensionsValue: 1536}) {
		t.Error("fallback with a different model accepted")
	}
	if fb.AddFallback("other-dims", &embmock.Provider{ModelIDValue: "text-embedding-3-small", DimensionsValue: 768}) {
		t.Error("fallback with different dimensions accepted")
	}
}

func TestEmbeddingsFallback_AllFail(t *testing.T) {
	t.Parallel()
	primary := &embmock.Provider{Err: errors.New("down")}
	fb := NewEmbeddingsFallback(primary, "primary", FallbackConfig{})

	if _, err := fb.Embed(context.Background(), "x"); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
