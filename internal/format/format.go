// Package format renders weather records as display text. Pure functions
// over normalized records; no state, no I/O.
package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/weatherpro/weather-service/internal/models"
)

// iconSymbols maps upstream icon codes to display symbols. Unknown codes
// fall back to defaultSymbol, never an error.
var iconSymbols = map[string]string{
	"01d": "☀️", "01n": "🌙",
	"02d": "⛅", "02n": "☁️",
	"03d": "☁️", "03n": "☁️",
	"04d": "☁️", "04n": "☁️",
	"09d": "🌧", "09n": "🌧",
	"10d": "🌦", "10n": "🌧",
	"11d": "⛈", "11n": "⛈",
	"13d": "❄️", "13n": "❄️",
	"50d": "🌫", "50n": "🌫",
}

const defaultSymbol = "🌡"

// precipitationIcons are the codes that suggest taking an umbrella.
var precipitationIcons = map[string]bool{
	"09d": true, "09n": true,
	"10d": true, "10n": true,
}

// Advisory thresholds.
const (
	coldTempC     = 0
	hotTempC      = 30
	strongWindMs  = 10.0
	highHumidityP = 80
)

// Symbol returns the display symbol for an icon code.
func Symbol(iconCode string) string {
	if s, ok := iconSymbols[iconCode]; ok {
		return s
	}
	return defaultSymbol
}

// Current renders a WeatherRecord as display text. fromCache appends a
// cached-data marker.
func Current(rec models.WeatherRecord, fromCache bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s Weather in %s, %s\n\n", Symbol(rec.IconCode), rec.City, rec.CountryCode)
	fmt.Fprintf(&b, "%s Temperature: %+d°C\n", tempSymbol(rec.TemperatureC), rec.TemperatureC)
	fmt.Fprintf(&b, "Feels like: %+d°C %s\n", rec.FeelsLikeC, comfortMark(rec.TemperatureC, rec.FeelsLikeC))
	fmt.Fprintf(&b, "%s\n\n", rec.Description)
	fmt.Fprintf(&b, "Humidity: %d%% (%s)\n", rec.HumidityPct, humidityLabel(rec.HumidityPct))
	fmt.Fprintf(&b, "Wind: %.1f m/s (%s)\n", rec.WindSpeedMs, windLabel(rec.WindSpeedMs))
	fmt.Fprintf(&b, "Pressure: %d hPa\n", rec.PressureHpa)
	fmt.Fprintf(&b, "Clouds: %d%%\n", rec.CloudsPct)

	if tips := Tips(rec); tips != "" {
		fmt.Fprintf(&b, "\nTip: %s\n", tips)
	}
	if fromCache {
		b.WriteString("\n(cached data)\n")
	}
	return b.String()
}

// Forecast renders a forecast as display text, one block per day.
func Forecast(city string, days []models.ForecastDay) string {
	var b strings.Builder
	fmt.Fprintf(&b, "5-day forecast for %s\n\n", city)

	if len(days) == 0 {
		b.WriteString("No forecast available.\n")
		return b.String()
	}

	for _, day := range days {
		heading := day.Date
		if t, err := time.Parse("2006-01-02", day.Date); err == nil {
			heading = fmt.Sprintf("%s, %s", t.Weekday(), t.Format("02.01"))
		}
		fmt.Fprintf(&b, "%s %s\n", Symbol(day.IconCode), heading)
		fmt.Fprintf(&b, "  %s %+d°C (min %+d° / max %+d°)\n",
			tempSymbol(day.TemperatureC), day.TemperatureC, day.TemperatureMinC, day.TemperatureMaxC)
		fmt.Fprintf(&b, "  %s\n", day.Description)
		fmt.Fprintf(&b, "  Humidity %d%% | Wind %.1f m/s\n\n", day.HumidityPct, day.WindSpeedMs)
	}
	return b.String()
}

// Tips returns advisory text built from fixed threshold rules, or ""
// when nothing applies.
func Tips(rec models.WeatherRecord) string {
	var tips []string

	if rec.TemperatureC < coldTempC {
		tips = append(tips, "Dress warmly")
	} else if rec.TemperatureC > hotTempC {
		tips = append(tips, "Take water with you")
	}
	if rec.WindSpeedMs > strongWindMs {
		tips = append(tips, "Strong wind, be careful")
	}
	if rec.HumidityPct > highHumidityP {
		tips = append(tips, "High humidity, rain is possible")
	}
	if precipitationIcons[rec.IconCode] {
		tips = append(tips, "Don't forget an umbrella")
	}

	return strings.Join(tips, ". ")
}

// tempSymbol buckets a temperature into a display symbol.
func tempSymbol(t int) string {
	switch {
	case t <= -20:
		return "🥶"
	case t <= -10:
		return "❄️"
	case t <= 0:
		return "🧊"
	case t <= 10:
		return "🧥"
	case t <= 20:
		return "🌡"
	case t <= 30:
		return "☀️"
	default:
		return "🔥"
	}
}

// comfortMark marks how far the perceived temperature diverges from the
// measured one.
func comfortMark(temp, feelsLike int) string {
	diff := temp - feelsLike
	if diff < 0 {
		diff = -diff
	}
	switch {
	case diff <= 2:
		return "✅"
	case diff <= 5:
		return "⚠️"
	default:
		return "❌"
	}
}

// humidityLabel buckets relative humidity into a qualitative label.
func humidityLabel(h int) string {
	switch {
	case h < 30:
		return "dry"
	case h < 60:
		return "comfortable"
	case h < 80:
		return "humid"
	default:
		return "very humid"
	}
}

// windLabel buckets wind speed into a qualitative label.
func windLabel(ws float64) string {
	switch {
	case ws < 2:
		return "calm"
	case ws < 5:
		return "light"
	case ws < 10:
		return "moderate"
	case ws < 15:
		return "strong"
	default:
		return "very strong"
	}
}
