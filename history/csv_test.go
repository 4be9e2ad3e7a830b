package history

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Kubendra2004/HealthForesight/forecast"
)

const sampleCSV = `date,beds,icu,oxygen,er_visits,occupancy_rate,temp,humidity,holiday
2024-01-03,120,14,310,88,0.81,18.5,62,0
2024-01-01,118,12,300,95,0.79,17.0,65,1
2024-01-02,119,13,305,90,0.80,17.5,64,false
`

func TestReadCSV(t *testing.T) {
	records, err := ReadCSV(context.Background(), strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	want := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	for i, r := range records {
		if !r.Date.Equal(want.AddDate(0, 0, i)) {
			t.Errorf("record %d date = %v, want %v", i, r.Date, want.AddDate(0, 0, i))
		}
	}
	first := records[0]
	if first.Beds != 118 || first.ICU != 12 || first.ERVisits != 95 || !first.Holiday {
		t.Errorf("unexpected first record %+v", first)
	}
	if records[1].Holiday || records[2].Holiday {
		t.Error("holiday parsed as true for 0/false")
	}
	if records[2].OccupancyRate != 0.81 || records[2].Temp != 18.5 {
		t.Errorf("unexpected last record %+v", records[2])
	}
}

func TestReadCSVColumnOrderAndExtras(t *testing.T) {
	data := `holiday,note,humidity,temp,occupancy_rate,er_visits,oxygen,icu,beds,date
1,new year,70,5,0.9,140,320,18,130,2024-01-01
`
	records, err := ReadCSV(context.Background(), strings.NewReader(data))
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if records[0].Beds != 130 || records[0].Humidity != 70 || !records[0].Holiday {
		t.Errorf("columns mapped incorrectly: %+v", records[0])
	}
}

func TestReadCSVErrors(t *testing.T) {
	tests := []struct {
		name        string
		data        string
		unavailable bool
		contains    string
	}{
		{"empty file", "", true, ""},
		{"header only", "date,beds,icu,oxygen,er_visits,occupancy_rate,temp,humidity,holiday\n", true, ""},
		{"missing column", "date,beds,icu\n2024-01-01,1,2\n", false, "oxygen"},
		{"bad number", "date,beds,icu,oxygen,er_visits,occupancy_rate,temp,humidity,holiday\n2024-01-01,x,1,1,1,1,1,1,0\n", false, "beds"},
		{"nan value", "date,beds,icu,oxygen,er_visits,occupancy_rate,temp,humidity,holiday\n2024-01-01,1,NaN,1,1,1,1,1,0\n", false, "line 2: column icu: non-finite"},
		{"infinite value", "date,beds,icu,oxygen,er_visits,occupancy_rate,temp,humidity,holiday\n2024-01-01,1,1,1,1,1,+Inf,1,0\n", false, "column temp: non-finite"},
		{"bad date", "date,beds,icu,oxygen,er_visits,occupancy_rate,temp,humidity,holiday\n01/02/2024,1,1,1,1,1,1,1,0\n", false, "date"},
		{"bad holiday", "date,beds,icu,oxygen,er_visits,occupancy_rate,temp,humidity,holiday\n2024-01-01,1,1,1,1,1,1,1,maybe\n", false, "holiday"},
		{"duplicate date", "date,beds,icu,oxygen,er_visits,occupancy_rate,temp,humidity,holiday\n2024-01-01,1,1,1,1,1,1,1,0\n2024-01-01,2,2,2,2,2,2,2,0\n", false, "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(context.Background(), strings.NewReader(tt.data))
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, forecast.ErrDataUnavailable) != tt.unavailable {
				t.Errorf("ErrDataUnavailable = %v, want %v (%v)", !tt.unavailable, tt.unavailable, err)
			}
			if tt.contains != "" && !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("error %q should mention %q", err, tt.contains)
			}
		})
	}
}

func TestCSVFileLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hospital_resources.csv")
	if err := os.WriteFile(path, []byte(sampleCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	records, err := CSVFile{Path: path}.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("got %d records, want 3", len(records))
	}

	_, err = CSVFile{Path: filepath.Join(t.TempDir(), "missing.csv")}.Load(context.Background())
	if !errors.Is(err, forecast.ErrDataUnavailable) {
		t.Errorf("missing file: got %v, want ErrDataUnavailable", err)
	}
}

func TestParseHoliday(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"1", true},
		{"TRUE", true},
		{" yes ", true},
		{"0", false},
		{"false", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseHoliday(tt.in)
			if err != nil {
				t.Fatalf("ParseHoliday(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseHoliday(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
