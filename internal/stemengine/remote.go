package stemengine

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/infinitymix/engine/internal/domain"
	"github.com/infinitymix/engine/internal/pcm"
)

// probeTimeout and separateTimeout are the StemEngine deadlines from spec
// §6.6: health checks are capped at 3s so they never dominate a separate()
// call, and the separation call itself is capped at 300s.
const (
	probeTimeout    = 3 * time.Second
	separateTimeout = 300 * time.Second
	connectTimeout  = 15 * time.Second
)

// remoteEngine calls a hosted stem-separation HTTP service. It sits between
// the local engine and the frequency-band fallback in the ordered list.
type remoteEngine struct {
	client *resty.Client
}

// NewRemoteEngine builds the remote StemEngine entry against baseURL (the
// STEM_ENGINES config entry for this engine).
func NewRemoteEngine(baseURL string) *remoteEngine {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTransport(&http.Transport{
			DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
		})
	return &remoteEngine{client: client}
}

func (r *remoteEngine) Name() string { return "remote" }

func (r *remoteEngine) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	resp, err := r.client.R().SetContext(probeCtx).Get("/health")
	return err == nil && resp.IsSuccess()
}

type remoteSeparateResponse struct {
	Vocals []byte `json:"vocals"`
	Drums  []byte `json:"drums"`
	Bass   []byte `json:"bass"`
	Other  []byte `json:"other"`
}

func (r *remoteEngine) Separate(ctx context.Context, buf *pcm.Buffer) (map[domain.StemKind]*pcm.Buffer, error) {
	sepCtx, cancel := context.WithTimeout(ctx, separateTimeout)
	defer cancel()

	var result remoteSeparateResponse
	resp, err := r.client.R().
		SetContext(sepCtx).
		SetHeader("Content-Type", "application/octet-stream").
		SetQueryParam("sampleRate", strconv.Itoa(buf.SampleRate)).
		SetBody(encodeF32(buf.Samples)).
		SetResult(&result).
		Post("/separate")
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, &remoteError{status: resp.StatusCode(), body: resp.String()}
	}

	return map[domain.StemKind]*pcm.Buffer{
		domain.StemVocals: {Samples: pcm.DecodeFloat32LE(result.Vocals), SampleRate: buf.SampleRate},
		domain.StemDrums:  {Samples: pcm.DecodeFloat32LE(result.Drums), SampleRate: buf.SampleRate},
		domain.StemBass:   {Samples: pcm.DecodeFloat32LE(result.Bass), SampleRate: buf.SampleRate},
		domain.StemOther:  {Samples: pcm.DecodeFloat32LE(result.Other), SampleRate: buf.SampleRate},
	}, nil
}

func encodeF32(samples []float64) []byte {
	raw, _ := io.ReadAll(pcm.NewFloat32Reader(samples))
	return raw
}

type remoteError struct {
	status int
	body   string
}

func (e *remoteError) Error() string {
	return "remote stem engine returned status " + strconv.Itoa(e.status) + ": " + e.body
}
