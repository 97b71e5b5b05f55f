// Package patientdir talks to the external patient directory. The core
// holds only identifiers and display fields; the directory owns the record.
package patientdir

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"

	"stepcount-be/internal/pkg/logger"
	"stepcount-be/pkg/faults"
)

// Patient mirrors the directory record (French-locale clinical fields).
type Patient struct {
	ID            string  `json:"id"`
	Nom           string  `json:"nom"`
	Prenom        string  `json:"prenom"`
	DateNaissance string  `json:"date_naissance"`
	Age           int     `json:"age"`
	Sexe          string  `json:"sexe"`
	Poids         float64 `json:"poids"`
	Taille        float64 `json:"taille"`
}

// DisplayName for logs and the operator UI.
func (p Patient) DisplayName() string {
	return p.Prenom + " " + p.Nom
}

// AccelerometerConfig is the directory's acknowledgement of a device
// configuration for a patient.
type AccelerometerConfig struct {
	ID        string `json:"id"`
	PatientID string `json:"patient_id"`
	Status    string `json:"status"`
}

type IClient interface {
	GetPatient(ctx context.Context, id string) (*Patient, error)
	ConfigureAccelerometer(ctx context.Context, patientID string) (*AccelerometerConfig, error)
}

type Client struct {
	http  *resty.Client
	cache *cache.Cache
	log   logger.ILogger
}

func NewClient(baseURL string, timeout time.Duration, log logger.ILogger) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		cache: cache.New(5*time.Minute, 10*time.Minute),
		log:   log,
	}
}

func (c *Client) GetPatient(ctx context.Context, id string) (*Patient, error) {
	cacheKey := "patient:" + id
	if cached, ok := c.cache.Get(cacheKey); ok {
		return cached.(*Patient), nil
	}

	var patient Patient
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&patient).
		Get("/patients/" + id)
	if err != nil {
		return nil, fmt.Errorf("%w: patient directory: %v", faults.ErrNetworkError, err)
	}
	if resp.StatusCode() == 404 {
		return nil, fmt.Errorf("%w: %s", faults.ErrPatientNotFound, id)
	}
	if resp.StatusCode() >= 400 {
		return nil, fmt.Errorf("patient directory returned HTTP %d", resp.StatusCode())
	}

	c.cache.Set(cacheKey, &patient, cache.DefaultExpiration)
	return &patient, nil
}

func (c *Client) ConfigureAccelerometer(ctx context.Context, patientID string) (*AccelerometerConfig, error) {
	var cfg AccelerometerConfig
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"patient_id": patientID}).
		SetResult(&cfg).
		Post("/accelerometer/configure")
	if err != nil {
		return nil, fmt.Errorf("%w: patient directory: %v", faults.ErrNetworkError, err)
	}
	if resp.StatusCode() == 404 {
		return nil, fmt.Errorf("%w: %s", faults.ErrPatientNotFound, patientID)
	}
	if resp.StatusCode() >= 400 {
		return nil, fmt.Errorf("accelerometer configure returned HTTP %d", resp.StatusCode())
	}

	c.log.Info("PatientDir", "Accelerometer configured", map[string]interface{}{
		"patient_id":       patientID,
		"accelerometer_id": cfg.ID,
	})
	return &cfg, nil
}
