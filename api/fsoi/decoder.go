package fsoi

import (
	"bufio"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Decoder turns one raw center file into observations.
type Decoder interface {
	Decode(r io.Reader) ([]Observation, error)
}

// columnDecoder reads line oriented text with the platform and impact in fixed columns. A zero
// separator splits on runs of whitespace. Blank lines and lines starting with '#' are skipped.
type columnDecoder struct {
	separator rune
	platform  int
	impact    int // negative counts from the end of the line
}

func (d columnDecoder) split(line string) []string {
	if d.separator == 0 {
		return strings.Fields(line)
	}
	fields := strings.Split(line, string(d.separator))
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields
}

func (d columnDecoder) Decode(r io.Reader) ([]Observation, error) {
	var obs []Observation
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := d.split(text)
		impactCol := d.impact
		if impactCol < 0 {
			impactCol = len(fields) + impactCol
		}
		if d.platform >= len(fields) || impactCol < 0 || impactCol >= len(fields) {
			return nil, errors.Wrapf(ErrMalformed, "line %d has %d columns", line, len(fields))
		}
		impact, err := strconv.ParseFloat(fields[impactCol], 64)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformed, "line %d impact %q", line, fields[impactCol])
		}
		obs = append(obs, Observation{
			Platform: NormalizePlatform(fields[d.platform]),
			Impact:   impact,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read raw file")
	}
	return obs, nil
}

// Registry maps each center to its decoder.
type Registry struct {
	decoders  map[string]Decoder
	canonical map[string]string
}

// NewRegistry creates a registry from center decoders.
func NewRegistry(decoders map[string]Decoder) *Registry {
	r := &Registry{
		decoders:  make(map[string]Decoder, len(decoders)),
		canonical: make(map[string]string, len(decoders)),
	}
	for center, d := range decoders {
		r.decoders[center] = d
		r.canonical[strings.ToLower(center)] = center
	}
	return r
}

// DefaultRegistry returns the decoders of every supported center.
func DefaultRegistry() *Registry {
	return NewRegistry(map[string]Decoder{
		"GMAO":    columnDecoder{platform: 0, impact: -1},
		"NRL":     columnDecoder{separator: ',', platform: 0, impact: -1},
		"MET":     columnDecoder{platform: 1, impact: -1},
		"MeteoFr": columnDecoder{separator: ';', platform: 0, impact: 3},
		"JMA_adj": columnDecoder{platform: 0, impact: -1},
		"JMA_ens": columnDecoder{platform: 0, impact: -1},
		"EMC":     columnDecoder{separator: ',', platform: 1, impact: -1},
	})
}

// Decoder returns the decoder registered for center.
func (r *Registry) Decoder(center string) (Decoder, bool) {
	d, ok := r.decoders[center]
	return d, ok
}

// Canonical resolves a center name case insensitively to its registered spelling.
func (r *Registry) Canonical(name string) (string, bool) {
	c, ok := r.canonical[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// Check fails unless every center has a decoder.
func (r *Registry) Check(centers []string) error {
	var missing []string
	for _, c := range centers {
		if _, ok := r.decoders[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return errors.Errorf("no decoder registered for centers %s", strings.Join(missing, ", "))
	}
	return nil
}

var platformAliases = map[string]string{
	"RAOB":       "Radiosonde",
	"RADIOSONDE": "Radiosonde",
	"TEMP":       "Radiosonde",
	"AIRCRAFT":   "Aircraft",
	"AMDAR":      "Aircraft",
	"AIREP":      "Aircraft",
	"SYNOP":      "Land Surface",
	"METAR":      "Land Surface",
	"SURFACE":    "Land Surface",
	"SHIP":       "Ship",
	"BUOY":       "Buoy",
	"DRIBU":      "Buoy",
	"SATWIND":    "AMV",
	"SATOB":      "AMV",
	"AMV":        "AMV",
	"SCATWIND":   "Scatterometer",
	"ASCAT":      "Scatterometer",
	"GPSRO":      "GPSRO",
	"GNSSRO":     "GPSRO",
	"AMSUA":      "AMSUA",
	"IASI":       "IASI",
	"AIRS":       "AIRS",
	"CRIS":       "CrIS",
	"ATMS":       "ATMS",
	"MHS":        "MHS",
}

// NormalizePlatform maps center specific platform spellings onto common names. Unknown names are
// returned trimmed.
func NormalizePlatform(name string) string {
	name = strings.TrimSpace(name)
	if common, ok := platformAliases[strings.ToUpper(name)]; ok {
		return common
	}
	return name
}
