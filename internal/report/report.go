package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/sentiment-ranker/comment-ranker/internal/models"
	"github.com/sentiment-ranker/comment-ranker/internal/scoring"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

// Output formats
const (
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"
)

// Sheet (xlsx) and file suffix (csv) names
const (
	RankingSheet = "ranking"
	DetailSheet  = "details"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	csvContentType  = "text/csv; charset=utf-8"
	utf8BOM         = "\ufeff"
)

var (
	rankingHeader = []string{"product", "score", "positive_count", "negative_count", "neutral_count",
		"total_engagement", "mention_count", "positive_rate", "features"}
	detailHeader = []string{"product", "sentiment", "evidence", "features", "thread_engagement",
		"thread_size", "root_id", "preview"}
)

// Artifact is one encoded output file
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
}

// OutputBaseName picks the artifact base name: the explicit name without its extension, or
// "<input base>_analysis_result".
func OutputBaseName(input, explicit string) string {
	if explicit != "" {
		base := filepath.Base(explicit)
		switch strings.ToLower(filepath.Ext(base)) {
		case ".xlsx", ".csv":
			base = strings.TrimSuffix(base, filepath.Ext(base))
		}
		return base
	}
	base := filepath.Base(input)
	return strings.TrimSuffix(base, filepath.Ext(base)) + "_analysis_result"
}

// Encode renders the ranking and detail tables in the given format.
func Encode(format, base string, ranking []models.ProductScore, facts []models.ExtractedFact) ([]Artifact, error) {
	switch format {
	case FormatXLSX:
		a, err := EncodeXLSX(base, ranking, facts)
		if err != nil {
			return nil, err
		}
		return []Artifact{a}, nil
	case FormatCSV:
		return EncodeCSV(base, ranking, facts)
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

// RankingRows returns the ranking table body. Score is rounded to 2 places, rate to 1.
func RankingRows(ranking []models.ProductScore) [][]any {
	rows := make([][]any, 0, len(ranking))
	for _, p := range ranking {
		rows = append(rows, []any{
			p.ProductName,
			round(p.Score, 2),
			p.PositiveCount,
			p.NegativeCount,
			p.NeutralCount,
			p.TotalEngagement,
			p.MentionCount,
			round(p.PositiveRate, 1),
			p.Features,
		})
	}
	return rows
}

// DetailRows returns one row per fact.
func DetailRows(facts []models.ExtractedFact) [][]any {
	rows := make([][]any, 0, len(facts))
	for _, f := range facts {
		rows = append(rows, []any{
			f.ProductName,
			string(f.Sentiment),
			f.Evidence,
			scoring.JoinTags(f.FeatureTags),
			f.ThreadEngagement,
			f.ThreadSize,
			f.RootID,
			f.Preview,
		})
	}
	return rows
}

// EncodeXLSX writes both tables into one workbook.
func EncodeXLSX(base string, ranking []models.ProductScore, facts []models.ExtractedFact) (Artifact, error) {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			logrus.Debugf("Failed to close workbook: %v", err)
		}
	}()

	if err := f.SetSheetName("Sheet1", RankingSheet); err != nil {
		return Artifact{}, fmt.Errorf("failed to rename sheet: %w", err)
	}
	if err := writeSheet(f, RankingSheet, rankingHeader, RankingRows(ranking)); err != nil {
		return Artifact{}, err
	}

	if _, err := f.NewSheet(DetailSheet); err != nil {
		return Artifact{}, fmt.Errorf("failed to add sheet: %w", err)
	}
	if err := writeSheet(f, DetailSheet, detailHeader, DetailRows(facts)); err != nil {
		return Artifact{}, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to encode workbook: %w", err)
	}
	return Artifact{Name: base + ".xlsx", ContentType: xlsxContentType, Data: buf.Bytes()}, nil
}

func writeSheet(f *excelize.File, sheet string, header []string, rows [][]any) error {
	head := make([]any, len(header))
	for i, h := range header {
		head[i] = h
	}
	all := append([][]any{head}, rows...)
	for i, row := range all {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

// EncodeCSV writes the two tables as separate files. Files start with a UTF-8 BOM so
// spreadsheet tools detect the encoding.
func EncodeCSV(base string, ranking []models.ProductScore, facts []models.ExtractedFact) ([]Artifact, error) {
	r, err := csvBytes(rankingHeader, RankingRows(ranking))
	if err != nil {
		return nil, err
	}
	d, err := csvBytes(detailHeader, DetailRows(facts))
	if err != nil {
		return nil, err
	}
	return []Artifact{
		{Name: base + "_" + RankingSheet + ".csv", ContentType: csvContentType, Data: r},
		{Name: base + "_" + DetailSheet + ".csv", ContentType: csvContentType, Data: d},
	}, nil
}

func csvBytes(header []string, rows [][]any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(utf8BOM)
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, row := range rows {
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = fmt.Sprint(v)
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to encode csv: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteSummary prints the first n ranking rows as an aligned table.
func WriteSummary(out io.Writer, ranking []models.ProductScore, n int) error {
	if n > len(ranking) {
		n = len(ranking)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tPRODUCT\tSCORE\tPOS\tNEG\tNEU\tMENTIONS\tPOSITIVE RATE")
	for i, p := range ranking[:n] {
		fmt.Fprintf(w, "%d\t%s\t%.2f\t%d\t%d\t%d\t%d\t%.1f%%\n",
			i+1, p.ProductName, p.Score, p.PositiveCount, p.NegativeCount, p.NeutralCount, p.MentionCount, p.PositiveRate)
	}
	return w.Flush()
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
