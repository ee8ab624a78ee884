// record-seeder generates plausible operational record batches and posts
// them to a running daemon. Intended for load testing and for populating
// a development environment.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/meshgate/opmond/internal/models"
)

var serviceCodes = []string{
	"getData", "putData", "listMethods", "getPerson", "getCompany",
	"sendDocument", "fetchRegistry", "updateStatus",
}

var subsystems = []struct {
	member    string
	subsystem string
}{
	{"00000001", "System1"},
	{"00000001", "System2"},
	{"00000002", "Billing"},
	{"00000003", "Archive"},
	{"00000004", "Portal"},
}

func generateRecord(now time.Time, spread time.Duration) models.OperationalRecord {
	client := subsystems[rand.Intn(len(subsystems))]
	provider := subsystems[rand.Intn(len(subsystems))]

	recordTime := now.Add(-time.Duration(rand.Int63n(int64(spread))))
	requestIn := recordTime.UnixMilli()
	duration := int64(10 + rand.Intn(2000))
	requestOut := requestIn + duration/4
	responseIn := requestIn + 3*duration/4
	responseOut := requestIn + duration

	succeeded := rand.Intn(100) < 95
	requestSize := int64(200 + rand.Intn(100000))
	responseSize := int64(200 + rand.Intn(500000))
	attachments := int32(rand.Intn(3))

	serverType := models.SecurityServerTypeClient
	if rand.Intn(2) == 0 {
		serverType = models.SecurityServerTypeProducer
	}

	r := models.OperationalRecord{
		MonitoringDataTs:         recordTime.Unix(),
		SecurityServerInternalIP: gofakeit.IPv4Address(),
		SecurityServerType:       serverType,
		RequestInTs:              &requestIn,
		RequestOutTs:             &requestOut,
		ResponseInTs:             &responseIn,
		ResponseOutTs:            &responseOut,
		ClientXRoadInstance:      "DEV",
		ClientMemberClass:        "GOV",
		ClientMemberCode:         client.member,
		ClientSubsystemCode:      client.subsystem,
		ServiceXRoadInstance:     "DEV",
		ServiceMemberClass:       "GOV",
		ServiceMemberCode:        provider.member,
		ServiceSubsystemCode:     provider.subsystem,
		ServiceCode:              serviceCodes[rand.Intn(len(serviceCodes))],
		ServiceVersion:           "v1",
		MessageID:                gofakeit.UUID(),
		MessageUserID:            fmt.Sprintf("EE%08d", rand.Intn(100000000)),
		MessageProtocolVersion:   "4.0",
		XRequestID:               gofakeit.UUID(),
		RequestSize:              &requestSize,
		RequestAttachmentCount:   &attachments,
		ResponseSize:             &responseSize,
		Succeeded:                &succeeded,
	}

	if !succeeded {
		r.FaultCode = "Server.ServerProxy.ServiceFailed"
		r.FaultString = gofakeit.Sentence(6)
		// The fault cut the exchange short.
		r.ResponseInTs = nil
		r.ResponseOutTs = nil
		r.ResponseSize = nil
	}

	return r
}

func main() {
	url := flag.String("url", "http://localhost:2080", "daemon base URL")
	token := flag.String("token", "", "producer token")
	count := flag.Int("count", 1000, "total records to generate")
	batchSize := flag.Int("batch", 100, "records per request")
	spread := flag.Duration("spread", time.Hour, "spread record timestamps over this window")
	seed := flag.Int64("seed", 0, "random seed, 0 for time-based")
	flag.Parse()

	if *token == "" {
		log.Fatal("-token is required")
	}
	if *seed != 0 {
		rand.Seed(*seed)
		gofakeit.Seed(*seed)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	now := time.Now()
	sent := 0

	for sent < *count {
		n := *batchSize
		if remaining := *count - sent; remaining < n {
			n = remaining
		}

		records := make([]models.OperationalRecord, 0, n)
		for i := 0; i < n; i++ {
			records = append(records, generateRecord(now, *spread))
		}

		raw, err := json.Marshal(map[string]any{"records": records})
		if err != nil {
			log.Fatalf("marshal: %v", err)
		}

		req, err := http.NewRequest(http.MethodPost, *url+"/store_data", bytes.NewReader(raw))
		if err != nil {
			log.Fatalf("request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+*token)

		resp, err := client.Do(req)
		if err != nil {
			log.Fatalf("post: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			log.Fatalf("daemon returned %s", resp.Status)
		}
		resp.Body.Close()

		sent += n
		fmt.Printf("\rsent %d/%d records", sent, *count)
	}
	fmt.Println()
}
