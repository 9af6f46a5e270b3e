package ingest

import (
	"encoding/json"
	"log"
	"time"

	"github.com/lox/aurorawatch/internal/models"
)

const (
	FlagKpOutOfRange    = "kp_out_of_range"
	FlagKpNotOnBlock    = "kp_not_on_block"
	FlagKpInFuture      = "kp_in_future"
	FlagCloudOutOfRange = "cloud_out_of_range"
)

// futureSlack allows for upstream clocks running slightly ahead.
const futureSlack = 5 * time.Minute

// ValidateKpRecord returns quality flags for r as of now. GFZ values must
// sit on a 3-hour UT boundary.
func ValidateKpRecord(r models.KpRecord, now time.Time) []string {
	var flags []string

	if r.Kp < 0 || r.Kp > 9 {
		flags = append(flags, FlagKpOutOfRange)
	}
	if r.Source == models.SourceGFZ {
		t := r.ObservedAt.UTC()
		if t.Hour()%3 != 0 || t.Minute() != 0 || t.Second() != 0 {
			flags = append(flags, FlagKpNotOnBlock)
		}
	}
	if r.ObservedAt.After(now.Add(futureSlack)) {
		flags = append(flags, FlagKpInFuture)
	}

	return flags
}

func ValidateCloudSample(c models.CloudSample) []string {
	if c.Cover < 0 || c.Cover > 100 {
		return []string{FlagCloudOutOfRange}
	}
	return nil
}

// CleanKpRecords drops records carrying any flag and returns the rejects
// count.
func CleanKpRecords(records []models.KpRecord, now time.Time) ([]models.KpRecord, int) {
	var clean []models.KpRecord
	var rejected int
	for _, r := range records {
		if flags := ValidateKpRecord(r, now); len(flags) > 0 {
			log.Printf("validate: dropping %s kp %.3f at %s: %s", r.Source, r.Kp,
				r.ObservedAt.Format(time.RFC3339), QualityFlagsToJSON(flags))
			rejected++
			continue
		}
		clean = append(clean, r)
	}
	return clean, rejected
}

func CleanCloudSamples(samples []models.CloudSample) ([]models.CloudSample, int) {
	var clean []models.CloudSample
	var rejected int
	for _, c := range samples {
		if len(ValidateCloudSample(c)) > 0 {
			rejected++
			continue
		}
		clean = append(clean, c)
	}
	return clean, rejected
}

func QualityFlagsToJSON(flags []string) string {
	if len(flags) == 0 {
		return ""
	}
	b, _ := json.Marshal(flags)
	return string(b)
}
