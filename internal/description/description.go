// Package description builds the weather text added to activity descriptions.
package description

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/lildude/strava-weather/internal/weather"
)

// Temperature units.
const (
	Celsius    = "celsius"
	Fahrenheit = "fahrenheit"
)

// Formats.
const (
	FormatCompact  = "compact"
	FormatDetailed = "detailed"
	FormatCustom   = "custom"
)

// WeatherPatterns are the markers that show a description already carries
// weather. Any match is enough; users may have edited the text so this errs
// on the side of finding weather that isn't there.
var WeatherPatterns = []*regexp.Regexp{
	regexp.MustCompile(`°[CF]`),
	regexp.MustCompile(`(?i)feels like`),
	regexp.MustCompile(`(?i)humidity`),
	regexp.MustCompile(`(?i)m/s from`),
	regexp.MustCompile(`(?i)\bweather:`),
	regexp.MustCompile(`\bAQI\b`),
}

// HasWeatherData reports whether desc looks like it already has weather.
func HasWeatherData(desc string) bool {
	for _, p := range WeatherPatterns {
		if p.MatchString(desc) {
			return true
		}
	}
	return false
}

// Preferences controls how the weather text is rendered.
type Preferences struct {
	TemperatureUnit   string
	Format            string
	IncludeUV         bool
	IncludeVisibility bool
	// CustomFormat is used when Format is FormatCustom. Recognised
	// placeholders: {icon} {description} {condition} {temperature}
	// {feelsLike} {unit} {humidity} {pressure} {windSpeed} {windDirection}
	// {windDegrees} {windGust} {cloudCover} {visibility} {uvIndex}.
	CustomFormat string
}

func DefaultPreferences() Preferences {
	return Preferences{TemperatureUnit: Celsius, Format: FormatCompact}
}

// Compose appends the weather text to original, separated by a blank line.
func Compose(original string, w *weather.WeatherData, prefs Preferences) string {
	text := Format(w, prefs)
	original = strings.TrimRight(original, " \t\r\n")
	if strings.TrimSpace(original) == "" {
		return text
	}
	return original + "\n\n" + text
}

// Format renders w on its own.
func Format(w *weather.WeatherData, prefs Preferences) string {
	switch prefs.Format {
	case FormatDetailed:
		return detailed(w, prefs)
	case FormatCustom:
		if strings.TrimSpace(prefs.CustomFormat) != "" {
			return custom(w, prefs)
		}
	}
	return compact(w, prefs)
}

func compact(w *weather.WeatherData, prefs Preferences) string {
	var b strings.Builder
	if icon := weather.ConditionIcon(w.Icon); icon != "" {
		b.WriteString(icon + " ")
	}
	unit := unitSymbol(prefs)
	fmt.Fprintf(&b, "%s, %d%s, Feels like %d%s, Humidity %d%%, Wind %s m/s from %s",
		w.Description,
		temperature(w.Temperature, prefs), unit,
		temperature(w.FeelsLike, prefs), unit,
		w.Humidity,
		decimal(w.WindSpeed),
		weather.WindDirectionString(w.WindDirection))
	if prefs.IncludeUV {
		fmt.Fprintf(&b, ", UV %s", decimal(w.UVIndex))
	}
	if prefs.IncludeVisibility {
		fmt.Fprintf(&b, ", Visibility %d km", int(w.Visibility))
	}
	return b.String()
}

func detailed(w *weather.WeatherData, prefs Preferences) string {
	unit := unitSymbol(prefs)
	lines := []string{
		strings.TrimSpace(fmt.Sprintf("Weather: %s %s", weather.ConditionIcon(w.Icon), w.Description)),
		fmt.Sprintf("🌡 Temperature: %d%s, feels like %d%s", temperature(w.Temperature, prefs), unit, temperature(w.FeelsLike, prefs), unit),
		fmt.Sprintf("💦 Humidity: %d%%", w.Humidity),
	}
	wind := fmt.Sprintf("💨 Wind: %s m/s from %s", decimal(w.WindSpeed), weather.WindDirectionString(w.WindDirection))
	if w.WindGust > 0 {
		wind += fmt.Sprintf(" (gusts %s m/s)", decimal(w.WindGust))
	}
	lines = append(lines,
		wind,
		fmt.Sprintf("☁️ Cloud cover: %d%%", w.CloudCover),
		fmt.Sprintf("Pressure: %d hPa", w.Pressure),
	)
	if prefs.IncludeUV {
		lines = append(lines, fmt.Sprintf("UV index: %s", decimal(w.UVIndex)))
	}
	if prefs.IncludeVisibility {
		lines = append(lines, fmt.Sprintf("Visibility: %d km", int(w.Visibility)))
	}
	return strings.Join(lines, "\n")
}

func custom(w *weather.WeatherData, prefs Preferences) string {
	r := strings.NewReplacer(
		"{icon}", weather.ConditionIcon(w.Icon),
		"{description}", w.Description,
		"{condition}", w.Condition,
		"{temperature}", strconv.Itoa(temperature(w.Temperature, prefs)),
		"{feelsLike}", strconv.Itoa(temperature(w.FeelsLike, prefs)),
		"{unit}", unitSymbol(prefs),
		"{humidity}", strconv.Itoa(w.Humidity),
		"{pressure}", strconv.Itoa(w.Pressure),
		"{windSpeed}", decimal(w.WindSpeed),
		"{windDirection}", weather.WindDirectionString(w.WindDirection),
		"{windDegrees}", strconv.Itoa(w.WindDirection),
		"{windGust}", decimal(w.WindGust),
		"{cloudCover}", strconv.Itoa(w.CloudCover),
		"{visibility}", strconv.Itoa(int(w.Visibility)),
		"{uvIndex}", decimal(w.UVIndex),
	)
	return strings.TrimSpace(r.Replace(prefs.CustomFormat))
}

// temperature converts a Celsius value to the preferred unit.
func temperature(c float64, prefs Preferences) int {
	if prefs.TemperatureUnit == Fahrenheit {
		return int(math.Round(c*9/5 + 32))
	}
	return int(math.Round(c))
}

func unitSymbol(prefs Preferences) string {
	if prefs.TemperatureUnit == Fahrenheit {
		return "°F"
	}
	return "°C"
}

func decimal(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
