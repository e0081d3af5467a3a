package report

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DateLayout is the canonical request date encoding.
const DateLayout = "20060102"

// Norm selects the forecast error norm a report is computed for.
type Norm string

// Norms supported by the report pipeline.
const (
	NormDry   Norm = "dry"
	NormMoist Norm = "moist"
	NormBoth  Norm = "both"
)

// Expand returns the concrete norms covered, `both` being dry and moist.
func (n Norm) Expand() []Norm {
	if n == NormBoth {
		return []Norm{NormDry, NormMoist}
	}
	return []Norm{n}
}

// ValidCycles are the analysis hours a request may select.
var ValidCycles = []int{0, 6, 12, 18}

// ErrInvalidRequest is returned for requests that fail validation.
var ErrInvalidRequest = errors.New("invalid report request")

// Request is an immutable report request. Set valued fields are kept sorted and unique.
type Request struct {
	StartDate time.Time
	EndDate   time.Time
	Centers   []string
	Norm      Norm
	Cycles    []int
	Platforms []string
}

// CenterResolver maps a client supplied center name onto its canonical spelling.
type CenterResolver func(name string) (string, bool)

// wireRequest is the permissive encoding clients send.
type wireRequest struct {
	StartDate string    `json:"start_date"`
	EndDate   string    `json:"end_date"`
	Centers   scalarSet `json:"centers"`
	Norm      string    `json:"norm"`
	Cycles    scalarSet `json:"cycles"`
	Platforms scalarSet `json:"platforms"`
}

// scalarSet decodes either a JSON array of scalars or a comma separated string.
type scalarSet []string

func (s *scalarSet) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	var out []string
	switch v := raw.(type) {
	case nil:
	case string:
		out = splitList(v)
	case json.Number:
		out = []string{v.String()}
	case []interface{}:
		for _, item := range v {
			switch iv := item.(type) {
			case string:
				out = append(out, splitList(iv)...)
			case json.Number:
				out = append(out, iv.String())
			default:
				return errors.Errorf("unsupported list element %v", item)
			}
		}
	default:
		return errors.Errorf("unsupported list value %v", raw)
	}
	*s = out
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Parse validates and decodes a client request body. When resolve is nil center names are kept as sent.
func Parse(body []byte, resolve CenterResolver) (*Request, error) {
	if err := Validate(body); err != nil {
		return nil, err
	}
	var wire wireRequest
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, errors.Wrap(ErrInvalidRequest, err.Error())
	}
	return wire.normalize(resolve)
}

// UnmarshalJSON accepts the same permissive encoding as Parse, without center resolution.
func (r *Request) UnmarshalJSON(data []byte) error {
	var wire wireRequest
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	req, err := wire.normalize(nil)
	if err != nil {
		return err
	}
	*r = *req
	return nil
}

// MarshalJSON emits the canonical encoding.
func (r Request) MarshalJSON() ([]byte, error) {
	return Canonicalize(&r), nil
}

func (w *wireRequest) normalize(resolve CenterResolver) (*Request, error) {
	start, err := parseDate(w.StartDate)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidRequest, "start_date %q", w.StartDate)
	}
	end, err := parseDate(w.EndDate)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidRequest, "end_date %q", w.EndDate)
	}
	if end.Before(start) {
		return nil, errors.Wrap(ErrInvalidRequest, "end_date precedes start_date")
	}

	norm := Norm(strings.ToLower(strings.TrimSpace(w.Norm)))
	switch norm {
	case NormDry, NormMoist, NormBoth:
	default:
		return nil, errors.Wrapf(ErrInvalidRequest, "norm %q", w.Norm)
	}

	centers := make([]string, 0, len(w.Centers))
	for _, c := range w.Centers {
		if resolve != nil {
			canonical, ok := resolve(c)
			if !ok {
				return nil, errors.Wrapf(ErrInvalidRequest, "unknown center %q", c)
			}
			c = canonical
		}
		centers = append(centers, c)
	}
	centers = uniqueSorted(centers)
	if len(centers) == 0 {
		return nil, errors.Wrap(ErrInvalidRequest, "no centers requested")
	}

	cycles, err := parseCycles(w.Cycles)
	if err != nil {
		return nil, err
	}

	var platforms []string
	for _, p := range w.Platforms {
		platforms = append(platforms, strings.ToLower(p))
	}

	return &Request{
		StartDate: start,
		EndDate:   end,
		Centers:   centers,
		Norm:      norm,
		Cycles:    cycles,
		Platforms: uniqueSorted(platforms),
	}, nil
}

func parseDate(v string) (time.Time, error) {
	v = strings.ReplaceAll(strings.TrimSpace(v), "-", "")
	return time.Parse(DateLayout, v)
}

func parseCycles(values []string) ([]int, error) {
	seen := map[int]bool{}
	for _, v := range values {
		hour, ok := cycleHour(v)
		if !ok {
			return nil, errors.Wrapf(ErrInvalidRequest, "cycle %q", v)
		}
		seen[hour] = true
	}
	if len(seen) == 0 {
		return nil, errors.Wrap(ErrInvalidRequest, "no cycles requested")
	}
	cycles := make([]int, 0, len(seen))
	for hour := range seen {
		cycles = append(cycles, hour)
	}
	sort.Ints(cycles)
	return cycles, nil
}

func cycleHour(v string) (int, bool) {
	hour, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	for _, c := range ValidCycles {
		if hour == c {
			return c, true
		}
	}
	return 0, false
}

func uniqueSorted(values []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// Dates returns every day covered by the request, inclusive.
func (r *Request) Dates() []time.Time {
	var dates []time.Time
	for d := r.StartDate; !d.After(r.EndDate); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return dates
}

// AllowsPlatform reports whether the platform passes the request's allow-list. An empty
// allow-list admits every platform; matching is case insensitive.
func (r *Request) AllowsPlatform(platform string) bool {
	if len(r.Platforms) == 0 {
		return true
	}
	p := strings.ToLower(platform)
	i := sort.SearchStrings(r.Platforms, p)
	return i < len(r.Platforms) && r.Platforms[i] == p
}
