package models

// WeatherRecord is a normalized, provider-agnostic snapshot of current
// weather for one location. Temperatures are rounded to whole degrees
// Celsius during normalization. Records are immutable once constructed;
// callers receive copies.
type WeatherRecord struct {
	City         string  `json:"city"`
	CountryCode  string  `json:"countryCode"`
	TemperatureC int     `json:"temperatureC"`
	FeelsLikeC   int     `json:"feelsLikeC"`
	Description  string  `json:"description"`
	HumidityPct  int     `json:"humidityPct"`
	PressureHpa  int     `json:"pressureHpa"`
	WindSpeedMs  float64 `json:"windSpeedMs"`
	CloudsPct    int     `json:"cloudsPct"`
	IconCode     string  `json:"iconCode"`
}

// ForecastDay is one day of a 5-day forecast, built from the upstream
// sample taken at 12:00 local upstream time. Date is a calendar date in
// YYYY-MM-DD form; a forecast result holds at most 5 days, ascending.
type ForecastDay struct {
	Date            string  `json:"date"`
	TemperatureC    int     `json:"temperatureC"`
	TemperatureMinC int     `json:"temperatureMinC"`
	TemperatureMaxC int     `json:"temperatureMaxC"`
	Description     string  `json:"description"`
	HumidityPct     int     `json:"humidityPct"`
	WindSpeedMs     float64 `json:"windSpeedMs"`
	IconCode        string  `json:"iconCode"`
}
