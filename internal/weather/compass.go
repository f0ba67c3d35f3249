package weather

import (
	"math"
	"strings"
)

var compassPoints = [16]string{
	"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE",
	"S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW",
}

// WindDirectionString returns the 16-point compass direction for deg.
// Any angle is accepted, including negative ones: -45 is NW.
func WindDirectionString(deg int) string {
	d := ((deg % 360) + 360) % 360
	return compassPoints[int(math.Round(float64(d)/22.5))%len(compassPoints)]
}

var conditionIcons = map[string]string{
	"01": "☀️", // Clear
	"02": "🌤",  // Partly cloudy
	"03": "⛅",  // Scattered clouds
	"04": "🌥",  // Broken clouds
	"09": "🌧",  // Shower/rain
	"10": "🌦",  // Rain
	"11": "⛈",  // Thunderstorm
	"13": "🌨",  // Snow
	"50": "🌫",  // Mist
}

// ConditionIcon maps an OpenWeatherMap icon code such as "10d" to an emoji.
// Unknown codes return an empty string.
func ConditionIcon(code string) string {
	return conditionIcons[strings.TrimRight(code, "dn")]
}
