// Package weather resolves the conditions at an activity's start using the
// OpenWeatherMap One Call 3.0 API.
package weather

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lildude/strava-weather/internal/client"
	"github.com/lildude/strava-weather/internal/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var BaseURL = "https://api.openweathermap.org/"

// Upstream endpoints, also used as metric labels.
const (
	EndpointCurrent     = "current"
	EndpointTimemachine = "timemachine"
)

const (
	// CurrentWindow is how old an activity may be for current conditions
	// to stand in for it.
	CurrentWindow = time.Hour
	// HistoryWindow is how far back the time machine endpoint is used.
	HistoryWindow = 120 * time.Hour

	cacheBucket = 15 * time.Minute
)

// Upstream unit systems.
const (
	UnitsStandard = "standard"
	UnitsMetric   = "metric"
	UnitsImperial = "imperial"
)

const mphToMetresPerSecond = 0.44704

// WeatherData is a metric weather snapshot.
type WeatherData struct {
	Temperature   float64   `json:"temperature"`
	FeelsLike     float64   `json:"feelsLike"`
	Humidity      int       `json:"humidity"`
	Pressure      int       `json:"pressure"`
	WindSpeed     float64   `json:"windSpeed"`
	WindDirection int       `json:"windDirection"`
	WindGust      float64   `json:"windGust,omitempty"`
	CloudCover    int       `json:"cloudCover"`
	Visibility    float64   `json:"visibility"`
	Condition     string    `json:"condition"`
	Description   string    `json:"description"`
	Icon          string    `json:"icon"`
	UVIndex       float64   `json:"uvIndex,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

type condition struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type data struct {
	Dt         int64       `json:"dt"`
	Temp       float64     `json:"temp"`
	FeelsLike  float64     `json:"feels_like"`
	Pressure   int         `json:"pressure"`
	Humidity   int         `json:"humidity"`
	UVI        *float64    `json:"uvi"`
	Clouds     int         `json:"clouds"`
	Visibility *float64    `json:"visibility"`
	WindSpeed  float64     `json:"wind_speed"`
	WindDeg    int         `json:"wind_deg"`
	WindGust   *float64    `json:"wind_gust"`
	Weather    []condition `json:"weather"`
}

type oneCallResponse struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Timezone string  `json:"timezone"`
	Current  *data   `json:"current"`
	Data     []data  `json:"data"`
}

// Resolver fetches and caches weather for activities.
type Resolver struct {
	client  *client.Client
	apiKey  string
	units   string
	log     logrus.FieldLogger
	cache   Cache
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Resolver)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithCache replaces the default in-memory cache.
func WithCache(c Cache) Option {
	return func(r *Resolver) { r.cache = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver returns a Resolver that calls the API through c. If c is nil a
// client for BaseURL using http.DefaultClient is created.
func NewResolver(c *client.Client, apiKey, units string, log logrus.FieldLogger, opts ...Option) *Resolver {
	if c == nil {
		u, _ := url.Parse(BaseURL)
		c = client.NewClient(u, nil)
	}
	if units == "" {
		units = UnitsMetric
	}
	r := &Resolver{
		client: c,
		apiKey: apiKey,
		units:  units,
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = NewMemoryCache(DefaultCacheTTL)
	}
	return r
}

// GetWeatherForActivity returns the weather at lat/lon for an activity that
// started at activityTime. Activities from the last hour get current
// conditions, those up to five days old get the historical reading for the
// exact time. Anything else falls back to current conditions and the
// returned Timestamp is the time of that reading, not of the activity.
func (r *Resolver) GetWeatherForActivity(ctx context.Context, lat, lon float64, activityTime time.Time, activityID int64) (*WeatherData, error) {
	key := cacheKey(lat, lon, activityTime, activityID)
	endpoint := r.endpointFor(activityTime)
	log := r.log.WithFields(logrus.Fields{"activity_id": activityID, "endpoint": endpoint})

	if w, ok, err := r.cache.Get(ctx, key); err != nil {
		log.WithError(err).Warn("weather cache read failed")
	} else if ok {
		r.metrics.WeatherRequest(endpoint, "hit")
		log.Debug("weather cache hit")
		return w, nil
	}
	r.metrics.WeatherRequest(endpoint, "miss")

	var (
		w   *WeatherData
		err error
	)
	switch endpoint {
	case EndpointTimemachine:
		w, err = r.historical(ctx, lat, lon, activityTime)
	default:
		w, err = r.current(ctx, lat, lon)
	}
	if err != nil {
		return nil, err
	}

	if err := r.cache.Set(ctx, key, w); err != nil {
		log.WithError(err).Warn("weather cache write failed")
	}
	return w, nil
}

func (r *Resolver) endpointFor(activityTime time.Time) string {
	since := r.now().Sub(activityTime)
	switch {
	case since > 0 && since <= CurrentWindow:
		return EndpointCurrent
	case since > CurrentWindow && since <= HistoryWindow:
		return EndpointTimemachine
	}
	r.log.WithFields(logrus.Fields{
		"activity_time": activityTime.UTC().Format(time.RFC3339),
		"hours_since":   math.Round(since.Hours()*10) / 10,
	}).Warn("activity outside historical window, using current conditions")
	return EndpointCurrent
}

func (r *Resolver) current(ctx context.Context, lat, lon float64) (*WeatherData, error) {
	q := r.query(lat, lon)
	q.Set("exclude", "minutely,hourly,daily,alerts")

	res, err := r.fetch(ctx, "/data/3.0/onecall", q)
	if err != nil {
		return nil, fmt.Errorf("fetching current weather: %w", err)
	}
	if res.Current == nil {
		return nil, fmt.Errorf("fetching current weather: no current conditions in response")
	}
	return r.normalize(*res.Current), nil
}

func (r *Resolver) historical(ctx context.Context, lat, lon float64, at time.Time) (*WeatherData, error) {
	q := r.query(lat, lon)
	q.Set("dt", strconv.FormatInt(at.Unix(), 10))

	res, err := r.fetch(ctx, "/data/3.0/onecall/timemachine", q)
	if err != nil {
		return nil, fmt.Errorf("fetching historical weather: %w", err)
	}
	if len(res.Data) == 0 {
		return nil, fmt.Errorf("fetching historical weather: no data in response")
	}
	return r.normalize(res.Data[0]), nil
}

func (r *Resolver) query(lat, lon float64) url.Values {
	return url.Values{
		"lat":   {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":   {strconv.FormatFloat(lon, 'f', -1, 64)},
		"appid": {r.apiKey},
		"units": {r.units},
	}
}

func (r *Resolver) fetch(ctx context.Context, path string, q url.Values) (*oneCallResponse, error) {
	req, err := r.client.NewRequest(ctx, http.MethodGet, path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var res oneCallResponse
	resp, err := r.client.Do(req, &res)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// normalize converts an upstream reading into metric units, rounded to the
// precision we display.
func (r *Resolver) normalize(d data) *WeatherData {
	w := &WeatherData{
		Temperature:   math.Round(r.celsius(d.Temp)),
		FeelsLike:     math.Round(r.celsius(d.FeelsLike)),
		Humidity:      d.Humidity,
		Pressure:      d.Pressure,
		WindSpeed:     round1(r.metresPerSecond(d.WindSpeed)),
		WindDirection: d.WindDeg,
		CloudCover:    d.Clouds,
		Timestamp:     time.Unix(d.Dt, 0).UTC(),
	}
	if d.Dt == 0 {
		w.Timestamp = r.now().UTC()
	}
	if d.WindGust != nil {
		w.WindGust = round1(r.metresPerSecond(*d.WindGust))
	}
	if d.UVI != nil {
		w.UVIndex = round1(*d.UVI)
	}
	if d.Visibility != nil {
		w.Visibility = math.Round(*d.Visibility / 1000)
	}
	if len(d.Weather) > 0 {
		w.Condition = d.Weather[0].Main
		w.Description = cases.Title(language.BritishEnglish).String(d.Weather[0].Description)
		w.Icon = d.Weather[0].Icon
	}
	return w
}

func (r *Resolver) celsius(v float64) float64 {
	switch r.units {
	case UnitsStandard:
		return v - 273.15
	case UnitsImperial:
		return (v - 32) * 5 / 9
	}
	return v
}

func (r *Resolver) metresPerSecond(v float64) float64 {
	if r.units == UnitsImperial {
		return v * mphToMetresPerSecond
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// cacheKey buckets nearby requests together: coordinates to four decimal
// places (about 11m) and time down to the quarter hour.
func cacheKey(lat, lon float64, t time.Time, activityID int64) string {
	return fmt.Sprintf("weather:%.4f:%.4f:%d:%d", lat, lon, t.UTC().Truncate(cacheBucket).Unix(), activityID)
}
