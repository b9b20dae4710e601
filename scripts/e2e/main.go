// Command e2e drives a seeded draft booking through submission, the fake
// checkout and staff approval against a running API server.
//
// Usage:
//
//	API_BASE_URL=http://localhost:8080 INTERNAL_SERVICE_KEY=... STAFF_JWT_SECRET=... \
//	    go run ./scripts/e2e <property-id> <booking-id>
//
// The server must run with PAYMENT_GATEWAY=fake.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	httpmiddleware "github.com/wolfman30/hotel-pms-backend/internal/http/middleware"
)

type runner struct {
	base       string
	serviceKey string
	staffToken string
	propertyID string
	client     *http.Client
	failures   int
}

func (r *runner) check(name string, ok bool, detail string) {
	if ok {
		fmt.Printf("  PASS %s\n", name)
		return
	}
	r.failures++
	fmt.Printf("  FAIL %s: %s\n", name, detail)
}

func (r *runner) do(method, path string, headers map[string]string, body any) (int, map[string]any, error) {
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, r.base+path, buf)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out := map[string]any{}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out, nil
}

func (r *runner) internal(path string) (int, map[string]any, error) {
	return r.do(http.MethodPost, "/internal/bookings/"+path, map[string]string{httpmiddleware.ServiceKeyHeader: r.serviceKey}, nil)
}

func (r *runner) staff(path string, body any) (int, map[string]any, error) {
	return r.do(http.MethodPost, "/api/v1/bookings/"+path, map[string]string{
		"Authorization":               "Bearer " + r.staffToken,
		httpmiddleware.PropertyHeader: r.propertyID,
	}, body)
}

func staffToken(secret, propertyID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, httpmiddleware.StaffClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "staff:e2e",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
		},
		Properties: []string{propertyID},
		Role:       "front_desk",
	})
	return token.SignedString([]byte(secret))
}

func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: go run ./scripts/e2e <property-id> <booking-id>")
		os.Exit(1)
	}
	propertyID, bookingID := os.Args[1], os.Args[2]

	base := os.Getenv("API_BASE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	token, err := staffToken(os.Getenv("STAFF_JWT_SECRET"), propertyID)
	if err != nil {
		fmt.Printf("Error: sign staff token: %v\n", err)
		os.Exit(1)
	}
	r := &runner{
		base:       base,
		serviceKey: os.Getenv("INTERNAL_SERVICE_KEY"),
		staffToken: token,
		propertyID: propertyID,
		client: &http.Client{
			Timeout: 15 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}

	fmt.Printf("Booking flow against %s\n", base)

	status, body, err := r.internal(bookingID + "/submit")
	must(err)
	r.check("submit for payment", status == http.StatusOK && body["status"] == "PENDING_PAYMENT", fmt.Sprint(status, body))

	status, body, err = r.internal(bookingID + "/payment-session")
	must(err)
	r.check("open payment session", status == http.StatusCreated, fmt.Sprint(status, body))
	sessionID, _ := body["session_id"].(string)

	status, _, err = r.internal(bookingID + "/payment-session")
	must(err)
	r.check("second session rejected", status == http.StatusConflict, fmt.Sprint(status))

	status, _, err = r.do(http.MethodPost, "/payments/fake/"+sessionID+"/complete", nil, nil)
	must(err)
	r.check("fake checkout completes", status == http.StatusSeeOther, fmt.Sprint(status))

	status, body, err = r.staff(bookingID+"/approve", nil)
	must(err)
	r.check("staff approves", status == http.StatusOK && body["status"] == "CONFIRMED", fmt.Sprint(status, body))

	status, body, err = r.staff(bookingID+"/approve", nil)
	must(err)
	r.check("approve replays", status == http.StatusOK && body["replayed"] == true, fmt.Sprint(status, body))

	status, _, err = r.staff(bookingID+"/decline", map[string]string{"reason": "too late"})
	must(err)
	r.check("decline after approve conflicts", status == http.StatusConflict, fmt.Sprint(status))

	if r.failures > 0 {
		fmt.Printf("%d check(s) failed\n", r.failures)
		os.Exit(1)
	}
	fmt.Println("all checks passed")
}

func must(err error) {
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
