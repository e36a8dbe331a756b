package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/errors"
	"github.com/tphakala/coughdetect/internal/httpclient"
	"github.com/tphakala/coughdetect/internal/logger"
	"github.com/tphakala/coughdetect/internal/privacy"
)

// maxResponseBytes bounds the body read from the provider
const maxResponseBytes = 1 << 20

// OpenWeatherResponse represents the structure of weather data returned by the OpenWeather API
type OpenWeatherResponse struct {
	Coord struct {
		Lon float64 `json:"lon"`
		Lat float64 `json:"lat"`
	} `json:"coord"`
	Weather []struct {
		ID          int    `json:"id"`
		Main        string `json:"main"`
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Pressure  int     `json:"pressure"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
		Deg   int     `json:"deg"`
	} `json:"wind"`
	Clouds struct {
		All int `json:"all"`
	} `json:"clouds"`
	Dt   int64  `json:"dt"`
	Name string `json:"name"`
}

// OpenWeatherClient fetches current conditions from OpenWeather.
type OpenWeatherClient struct {
	httpClient *httpclient.Client
	endpoint   string
	apiKey     string
	units      string
	timeout    time.Duration
	limiter    *rate.Limiter
}

// NewOpenWeatherClient creates a client from the weather plugin settings
func NewOpenWeatherClient(settings *conf.WeatherSettings) (*OpenWeatherClient, error) {
	if settings.APIKey == "" {
		return nil, newWeatherError(errors.NewStd("OpenWeather API key not configured"),
			errors.CategoryConfiguration, "new_client")
	}

	c := &OpenWeatherClient{
		httpClient: httpclient.New(&httpclient.Config{DefaultTimeout: settings.Timeout, UserAgent: UserAgent}),
		endpoint:   settings.Endpoint,
		apiKey:     settings.APIKey,
		units:      settings.Units,
		timeout:    settings.Timeout,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/requestsPerMinute), requestBurst),
	}
	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	if c.units == "" {
		c.units = "metric"
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	return c, nil
}

// HTTPClient returns the underlying HTTP client
func (c *OpenWeatherClient) HTTPClient() *http.Client {
	return c.httpClient.HTTPClient()
}

func (c *OpenWeatherClient) requestURL(lat, lon float64) string {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 3, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 3, 64))
	q.Set("appid", c.apiKey)
	q.Set("units", c.units)
	q.Set("lang", "en")
	return c.endpoint + "?" + q.Encode()
}

// FetchWeather returns the current conditions at lat/lon. The whole call,
// including waiting for the rate limiter, is bounded by the client timeout.
func (c *OpenWeatherClient) FetchWeather(ctx context.Context, lat, lon float64) (*WeatherData, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, newWeatherError(fmt.Errorf("rate limit wait: %w", err), errors.CategoryTimeout, "rate_limit")
	}

	reqURL := c.requestURL(lat, lon)
	GetLogger().Debug("fetching weather", logger.String("url", maskAPIKey(reqURL, "appid")))

	resp, err := c.httpClient.Get(ctx, reqURL)
	if err != nil {
		category := errors.CategoryNetwork
		if ctx.Err() != nil {
			category = errors.CategoryTimeout
		}
		return nil, newWeatherError(fmt.Errorf("error fetching weather data: %w", privacy.WrapError(err)), category, "fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, newWeatherError(fmt.Errorf("received non-200 response: %d", resp.StatusCode), errors.CategoryHTTP, "fetch")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, newWeatherError(fmt.Errorf("error reading response body: %w", err), errors.CategoryNetwork, "read_body")
	}

	var weatherData OpenWeatherResponse
	if err := json.Unmarshal(body, &weatherData); err != nil {
		return nil, newWeatherError(fmt.Errorf("error unmarshaling weather data: %w", err), errors.CategoryValidation, "parse")
	}

	// Safety check for weather data
	if len(weatherData.Weather) == 0 {
		return nil, newWeatherError(errors.NewStd("no weather conditions returned from API"), errors.CategoryValidation, "parse")
	}

	return &WeatherData{
		Time:        time.Unix(weatherData.Dt, 0),
		City:        weatherData.Name,
		Temperature: toCelsius(weatherData.Main.Temp, c.units),
		FeelsLike:   toCelsius(weatherData.Main.FeelsLike, c.units),
		WindSpeed:   weatherData.Wind.Speed,
		WindDeg:     weatherData.Wind.Deg,
		Clouds:      weatherData.Clouds.All,
		Pressure:    weatherData.Main.Pressure,
		Humidity:    weatherData.Main.Humidity,
		Description: weatherData.Weather[0].Description,
		Icon:        weatherData.Weather[0].Icon,
	}, nil
}
