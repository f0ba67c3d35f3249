package description

import (
	"strings"
	"testing"

	"github.com/lildude/strava-weather/internal/weather"
)

var snapshot = &weather.WeatherData{
	Temperature:   15,
	FeelsLike:     14,
	Humidity:      60,
	Pressure:      1015,
	WindSpeed:     3.2,
	WindDirection: 315,
	WindGust:      5.7,
	CloudCover:    20,
	Visibility:    10,
	Condition:     "Clear",
	Description:   "Clear Sky",
	Icon:          "01d",
	UVIndex:       3.5,
}

func TestHasWeatherData(t *testing.T) {
	tests := []struct {
		desc string
		want bool
	}{
		{"", false},
		{"Morning loop with the club", false},
		{"Lovely ride, 15°C", true},
		{"Cold one, 40°F", true},
		{"FEELS LIKE winter", true},
		{"humidity was brutal", true},
		{"Wind 3.2 m/s from NW", true},
		{"Weather: sunny", true},
		{"AQI 49 💚", true},
		{"Went past the aquarium", false},
		{"Temperature around 15C", false},
	}
	for _, tc := range tests {
		if got := HasWeatherData(tc.desc); got != tc.want {
			t.Errorf("HasWeatherData(%q) = %v, want %v", tc.desc, got, tc.want)
		}
	}
}

func TestCompose(t *testing.T) {
	line := "☀️ Clear Sky, 15°C, Feels like 14°C, Humidity 60%, Wind 3.2 m/s from NW"

	tests := []struct {
		name     string
		original string
		want     string
	}{
		{"appends after a blank line", "Morning loop", "Morning loop\n\n" + line},
		{"trims trailing whitespace", "Morning loop\n\n  ", "Morning loop\n\n" + line},
		{"empty description", "", line},
		{"whitespace only", " \n ", line},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Compose(tc.original, snapshot, DefaultPreferences())
			if got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
			if !HasWeatherData(got) {
				t.Error("expected composed text to be detected as weather")
			}
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name  string
		prefs Preferences
		want  string
	}{
		{
			name:  "compact fahrenheit",
			prefs: Preferences{TemperatureUnit: Fahrenheit, Format: FormatCompact},
			want:  "☀️ Clear Sky, 59°F, Feels like 57°F, Humidity 60%, Wind 3.2 m/s from NW",
		},
		{
			name:  "compact with extras",
			prefs: Preferences{TemperatureUnit: Celsius, Format: FormatCompact, IncludeUV: true, IncludeVisibility: true},
			want:  "☀️ Clear Sky, 15°C, Feels like 14°C, Humidity 60%, Wind 3.2 m/s from NW, UV 3.5, Visibility 10 km",
		},
		{
			name:  "detailed",
			prefs: Preferences{TemperatureUnit: Celsius, Format: FormatDetailed, IncludeVisibility: true},
			want: strings.Join([]string{
				"Weather: ☀️ Clear Sky",
				"🌡 Temperature: 15°C, feels like 14°C",
				"💦 Humidity: 60%",
				"💨 Wind: 3.2 m/s from NW (gusts 5.7 m/s)",
				"☁️ Cloud cover: 20%",
				"Pressure: 1015 hPa",
				"Visibility: 10 km",
			}, "\n"),
		},
		{
			name:  "custom",
			prefs: Preferences{Format: FormatCustom, CustomFormat: "{icon} {temperature}{unit} {windSpeed}m/s {windDirection} ({windDegrees}°) {unknown}"},
			want:  "☀️ 15°C 3.2m/s NW (315°) {unknown}",
		},
		{
			name:  "custom without a template falls back to compact",
			prefs: Preferences{Format: FormatCustom, CustomFormat: "  "},
			want:  "☀️ Clear Sky, 15°C, Feels like 14°C, Humidity 60%, Wind 3.2 m/s from NW",
		},
		{
			name:  "zero value preferences",
			prefs: Preferences{},
			want:  "☀️ Clear Sky, 15°C, Feels like 14°C, Humidity 60%, Wind 3.2 m/s from NW",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Format(snapshot, tc.prefs); got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestFormatWithoutIcon(t *testing.T) {
	w := *snapshot
	w.Icon = ""
	got := Format(&w, DefaultPreferences())
	if !strings.HasPrefix(got, "Clear Sky, ") {
		t.Errorf("expected no icon prefix, got %q", got)
	}
}
