package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Source looks up the profile registered for a session. A miss is reported
// with ok=false and a nil error.
type Source interface {
	Lookup(ctx context.Context, sessionID string) (Profile, bool, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, sessionID string) (Profile, bool, error)

func (f SourceFunc) Lookup(ctx context.Context, sessionID string) (Profile, bool, error) {
	return f(ctx, sessionID)
}

// HTTPSource reads the room directory at GET {endpoint}/getProfile?room=.
type HTTPSource struct {
	endpoint string
	client   *http.Client
}

func NewHTTPSource(endpoint string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPSource{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   client,
	}
}

type directoryResponse struct {
	Profile *directoryProfile `json:"profile"`
}

type directoryProfile struct {
	ID             string          `json:"_id"`
	UserID         json.RawMessage `json:"user_id"`
	Age            json.RawMessage `json:"age"`
	Gender         string          `json:"gender"`
	Occupation     string          `json:"occupation"`
	EducationLevel string          `json:"education_level"`
	MaritalStatus  string          `json:"marital_status"`
	Notes          string          `json:"notes"`
}

type directoryUser struct {
	ID       string `json:"_id"`
	Name     string `json:"name"`
	LastName string `json:"last_name"`
}

func (s *HTTPSource) Lookup(ctx context.Context, sessionID string) (Profile, bool, error) {
	u := s.endpoint + "/getProfile?" + url.Values{"room": {sessionID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Profile{}, false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Profile{}, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Profile{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		const maxErr = 4096
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErr))
		return Profile{}, false, fmt.Errorf("profile lookup %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}

	var out directoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Profile{}, false, fmt.Errorf("profile decode: %w", err)
	}
	if out.Profile == nil {
		return Profile{}, false, nil
	}
	p := out.Profile.toProfile()
	if p == (Profile{}) {
		return Profile{}, false, nil
	}
	return p, true, nil
}

// toProfile accepts user_id either as a populated user document or as a bare
// id string, and age as either a number or a string.
func (d directoryProfile) toProfile() Profile {
	p := Profile{
		ID:             d.ID,
		Age:            rawScalar(d.Age),
		Gender:         d.Gender,
		Occupation:     d.Occupation,
		EducationLevel: d.EducationLevel,
		MaritalStatus:  d.MaritalStatus,
		Notes:          d.Notes,
	}
	if len(d.UserID) == 0 {
		return p
	}
	var user directoryUser
	if err := json.Unmarshal(d.UserID, &user); err == nil {
		if user.ID != "" {
			p.ID = user.ID
		}
		p.Name = strings.TrimSpace(user.Name + " " + user.LastName)
		return p
	}
	if id := rawScalar(d.UserID); id != "" {
		p.ID = id
	}
	return p
}

func rawScalar(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return ""
}
