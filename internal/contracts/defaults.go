package contracts

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/makaronz/animatize/pkg/schema"
)

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// Schema versions the orchestrator ships migrations for.
const (
	V10 = "1.0"
	V11 = "1.1"
	V20 = "2.0"

	// CurrentVersion is the internal version all business logic runs on.
	CurrentVersion = V20
)

// NewRequestRegistry builds the default request migration chain
// 1.0 -> 1.1 -> 2.0.
//
// 1.0 predates the metadata map: callers smuggled metadata through parameter
// keys prefixed "meta_". 1.1 hoists those into Metadata. 2.0 replaces the
// legacy "resolution" ("WxH") and "length_seconds" parameters with explicit
// "width"/"height"/"duration_seconds".
func NewRequestRegistry() *Registry[*schema.UnifiedRequest] {
	r, err := NewRegistry[*schema.UnifiedRequest](CurrentVersion)
	if err != nil {
		panic(err)
	}
	must(r.RegisterWithInverse(V10, V11, requestUp10to11, requestDown11to10))
	must(r.RegisterWithInverse(V11, V20, requestUp11to20, requestDown20to11))
	return r
}

// NewResponseRegistry builds the default response migration chain
// 1.0 -> 1.1 -> 2.0.
//
// 1.0 reported cost through Metadata["cost_usd"]; 1.1 introduces the Usage
// block. 2.0 moves elapsed time from Metadata["elapsed_ms"] into the typed
// ProcessingTime field.
func NewResponseRegistry() *Registry[*schema.UnifiedResponse] {
	r, err := NewRegistry[*schema.UnifiedResponse](CurrentVersion)
	if err != nil {
		panic(err)
	}
	must(r.RegisterWithInverse(V10, V11, responseUp10to11, responseDown11to10))
	must(r.RegisterWithInverse(V11, V20, responseUp11to20, responseDown20to11))
	return r
}

func requestUp10to11(req *schema.UnifiedRequest) (*schema.UnifiedRequest, error) {
	out := req.Clone()
	out.SchemaVersion = V11
	for k, v := range out.Parameters {
		if name, ok := strings.CutPrefix(k, "meta_"); ok {
			if out.Metadata == nil {
				out.Metadata = make(map[string]any)
			}
			out.Metadata[name] = v
			delete(out.Parameters, k)
		}
	}
	return out, nil
}

func requestDown11to10(req *schema.UnifiedRequest) (*schema.UnifiedRequest, error) {
	out := req.Clone()
	out.SchemaVersion = V10
	for k, v := range out.Metadata {
		if out.Parameters == nil {
			out.Parameters = make(map[string]any)
		}
		out.Parameters["meta_"+k] = v
	}
	out.Metadata = nil
	return out, nil
}

func requestUp11to20(req *schema.UnifiedRequest) (*schema.UnifiedRequest, error) {
	out := req.Clone()
	out.SchemaVersion = V20
	if res, ok := out.Parameters["resolution"].(string); ok {
		w, h, err := parseResolution(res)
		if err != nil {
			return nil, err
		}
		out.Parameters["width"] = w
		out.Parameters["height"] = h
		delete(out.Parameters, "resolution")
	}
	if secs, ok := out.Parameters["length_seconds"]; ok {
		out.Parameters["duration_seconds"] = secs
		delete(out.Parameters, "length_seconds")
	}
	return out, nil
}

func requestDown20to11(req *schema.UnifiedRequest) (*schema.UnifiedRequest, error) {
	out := req.Clone()
	out.SchemaVersion = V11
	w, wok := out.Parameters["width"]
	h, hok := out.Parameters["height"]
	if wok && hok {
		out.Parameters["resolution"] = fmt.Sprintf("%vx%v", w, h)
		delete(out.Parameters, "width")
		delete(out.Parameters, "height")
	}
	if secs, ok := out.Parameters["duration_seconds"]; ok {
		out.Parameters["length_seconds"] = secs
		delete(out.Parameters, "duration_seconds")
	}
	return out, nil
}

func responseUp10to11(resp *schema.UnifiedResponse) (*schema.UnifiedResponse, error) {
	out := resp.Clone()
	out.SchemaVersion = V11
	if cost, ok := out.Metadata["cost_usd"]; ok {
		if out.Usage == nil {
			out.Usage = &schema.Usage{}
		}
		if f, ok := toFloat(cost); ok {
			out.Usage.CostUSD = f
		}
		delete(out.Metadata, "cost_usd")
	}
	return out, nil
}

func responseDown11to10(resp *schema.UnifiedResponse) (*schema.UnifiedResponse, error) {
	out := resp.Clone()
	out.SchemaVersion = V10
	if out.Usage != nil && out.Usage.CostUSD > 0 {
		if out.Metadata == nil {
			out.Metadata = make(map[string]any)
		}
		out.Metadata["cost_usd"] = out.Usage.CostUSD
	}
	out.Usage = nil
	return out, nil
}

func responseUp11to20(resp *schema.UnifiedResponse) (*schema.UnifiedResponse, error) {
	out := resp.Clone()
	out.SchemaVersion = V20
	if ms, ok := out.Metadata["elapsed_ms"]; ok {
		if f, ok := toFloat(ms); ok {
			out.ProcessingTime = millisToDuration(f)
		}
		delete(out.Metadata, "elapsed_ms")
	}
	return out, nil
}

func responseDown20to11(resp *schema.UnifiedResponse) (*schema.UnifiedResponse, error) {
	out := resp.Clone()
	out.SchemaVersion = V11
	if out.ProcessingTime > 0 {
		if out.Metadata == nil {
			out.Metadata = make(map[string]any)
		}
		out.Metadata["elapsed_ms"] = float64(out.ProcessingTime.Milliseconds())
		out.ProcessingTime = 0
	}
	return out, nil
}

func parseResolution(res string) (int, int, error) {
	parts := strings.SplitN(strings.ToLower(res), "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed resolution %q", res)
	}
	w, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("malformed resolution %q: %w", res, err)
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("malformed resolution %q: %w", res, err)
	}
	return w, h, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func millisToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
