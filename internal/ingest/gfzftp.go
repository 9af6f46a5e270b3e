package ingest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/lox/aurorawatch/internal/models"
)

const (
	gfzFTPHost    = "ftp.gfz-potsdam.de:21"
	gfzNowcastTxt = "/pub/home/obs/Kp_ap_Ap_SN_F107/Kp_ap_nowcast.txt"
)

// GFZFTPClient reads the GFZ Kp nowcast text file over anonymous FTP.
type GFZFTPClient struct {
	host string
	path string
}

func NewGFZFTPClient(host string) *GFZFTPClient {
	if host == "" {
		host = gfzFTPHost
	}
	return &GFZFTPClient{host: host, path: gfzNowcastTxt}
}

// FetchSince returns the records observed at or after since.
func (f *GFZFTPClient) FetchSince(ctx context.Context, since time.Time) (*models.GFZSeries, *Payload, error) {
	conn, err := ftp.Dial(f.host, ftp.DialWithTimeout(30*time.Second), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, nil, fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login("anonymous", "anonymous"); err != nil {
		return nil, nil, fmt.Errorf("ftp login: %w", err)
	}

	resp, err := conn.Retr(f.path)
	if err != nil {
		return nil, nil, fmt.Errorf("ftp retr: %w", err)
	}
	defer resp.Close()

	body, err := io.ReadAll(resp)
	if err != nil {
		return nil, nil, fmt.Errorf("read body: %w", err)
	}
	payload := newPayload(models.SourceGFZ, "ftp/Kp_ap_nowcast", body, nil)

	records, parseErrors, err := ParseKpNowcast(bytes.NewReader(body))
	if err != nil {
		return nil, payload, err
	}
	payload.Result.ParseErrors = parseErrors

	series := &models.GFZSeries{SourceNote: models.DefaultGFZSourceNote}
	for _, r := range records {
		if !r.ObservedAt.Before(since) {
			series.Records = append(series.Records, r)
		}
	}
	payload.Result.RecordCount = len(series.Records)
	if len(series.Records) == 0 {
		return nil, payload, fmt.Errorf("gfz ftp: no records since %s", since.Format(time.RFC3339))
	}
	return series, payload, nil
}

// ParseKpNowcast reads Kp_ap_nowcast.txt rows:
//
//	YYYY MM DD hh.h hh._m days days_m Kp ap D
//
// A Kp of -1 marks a missing value. D is 0 (nowcast), 1 (preliminary) or
// 2 (definitive).
func ParseKpNowcast(r io.Reader) ([]models.KpRecord, int, error) {
	var records []models.KpRecord
	var parseErrors int

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 10 {
			parseErrors++
			continue
		}
		rec, ok := parseNowcastFields(fields)
		if !ok {
			parseErrors++
			continue
		}
		if rec.Kp < 0 {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, parseErrors, fmt.Errorf("scan nowcast: %w", err)
	}
	sortRecords(records)
	return records, parseErrors, nil
}

func parseNowcastFields(f []string) (models.KpRecord, bool) {
	year, err1 := strconv.Atoi(f[0])
	month, err2 := strconv.Atoi(f[1])
	day, err3 := strconv.Atoi(f[2])
	hour, err4 := strconv.ParseFloat(f[3], 64)
	kp, err5 := strconv.ParseFloat(f[7], 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return models.KpRecord{}, false
	}

	at := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC).
		Add(time.Duration(hour * float64(time.Hour)))

	var status string
	switch f[9] {
	case "0":
		status = "now"
	case "1":
		status = "pre"
	case "2":
		status = "def"
	default:
		status = f[9]
	}
	return models.KpRecord{Source: models.SourceGFZ, ObservedAt: at, Kp: kp, Status: status}, true
}

func sortRecords(records []models.KpRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ObservedAt.Before(records[j].ObservedAt)
	})
}
