package history

import (
	"strconv"

	"github.com/l0p7/planetcast/internal/planet"
	"github.com/l0p7/planetcast/internal/weather"
)

const (
	unitTemperature = "°C"
	unitHumidity    = "%"
	unitWindSpeed   = "m/s"
	unitPressure    = "hPa"
	unitVisibility  = "m"
	unitClouds      = "%"
)

// Record is a combined planet and weather snapshot.
type Record struct {
	PlanetID   string   `json:"planetId"`
	GSIType    string   `json:"gsiType,omitempty"`
	Timestamp  string   `json:"timestamp,omitempty"`
	PlanetName string   `json:"planetName"`
	Climate    string   `json:"climate"`
	Terrain    string   `json:"terrain"`
	Population string   `json:"population"`
	Weather    Snapshot `json:"weather"`
}

type Snapshot struct {
	Description   string      `json:"description"`
	Temperature   Measurement `json:"temperature"`
	FeelsLike     Measurement `json:"feelsLike"`
	Humidity      Measurement `json:"humidity"`
	WindSpeed     Measurement `json:"windSpeed"`
	Pressure      Measurement `json:"pressure"`
	Visibility    Measurement `json:"visibility"`
	CloudCoverage Measurement `json:"cloudCoverage"`
}

type Measurement struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Merge maps a planet and a weather report into an unstamped record.
func Merge(planetID int, p planet.Planet, w weather.Report) Record {
	return Record{
		PlanetID:   strconv.Itoa(planetID),
		PlanetName: p.Name,
		Climate:    p.Climate,
		Terrain:    p.Terrain,
		Population: p.Population,
		Weather: Snapshot{
			Description:   w.Description(),
			Temperature:   Measurement{Value: w.Main.Temp, Unit: unitTemperature},
			FeelsLike:     Measurement{Value: w.Main.FeelsLike, Unit: unitTemperature},
			Humidity:      Measurement{Value: w.Main.Humidity, Unit: unitHumidity},
			WindSpeed:     Measurement{Value: w.Wind.Speed, Unit: unitWindSpeed},
			Pressure:      Measurement{Value: w.Main.Pressure, Unit: unitPressure},
			Visibility:    Measurement{Value: w.Visibility, Unit: unitVisibility},
			CloudCoverage: Measurement{Value: w.Clouds.All, Unit: unitClouds},
		},
	}
}
