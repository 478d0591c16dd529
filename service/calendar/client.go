package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client talks to the platform's calendar-sync service, which owns the
// Google Calendar OAuth connection for each professional.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// SyncAppointment asks the calendar service to mirror an appointment and
// returns the meeting link it created. An empty link with a nil error means
// the professional has no calendar connected, which is a normal outcome.
func (c *Client) SyncAppointment(ctx context.Context, professionalID, appointmentID uint) (string, error) {
	if c.baseURL == "" {
		return "", nil
	}

	body, err := json.Marshal(map[string]uint{
		"professional_id": professionalID,
		"appointment_id":  appointmentID,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sync", bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var payload struct {
			MeetLink string `json:"meet_link"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return "", err
		}
		return payload.MeetLink, nil
	case http.StatusNotFound, http.StatusNoContent:
		// No calendar connected for this professional.
		return "", nil
	default:
		return "", fmt.Errorf("calendar: sync returned %d", resp.StatusCode)
	}
}
