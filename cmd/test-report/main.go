package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sentiment-ranker/comment-ranker/internal/config"
	"github.com/sentiment-ranker/comment-ranker/internal/extraction"
	"github.com/sentiment-ranker/comment-ranker/internal/models"
	"github.com/sentiment-ranker/comment-ranker/internal/pipeline"
	"github.com/sentiment-ranker/comment-ranker/internal/report"
	"github.com/sentiment-ranker/comment-ranker/internal/storage"
	"github.com/sentiment-ranker/comment-ranker/internal/threads"
)

const outputDir = "test_output"

// sampleComments is a small threaded export in the crawler's column layout.
var sampleComments = []string{
	"笔记id,评论id,主评论id,父评论id,昵称,评论内容,点赞数量,上传时间",
	"n1,c1,c1,,小鹿,干皮用菁纯真的很滋润，一整天不起皮,1.2万,2024-03-01 09:00",
	"n1,c2,c1,c1,阿圆,同意，菁纯冬天也不拔干,320,2024-03-01 09:30",
	"n1,c3,c1,c2,Mia,我混干用沁水有点卡粉,45,2024-03-01 10:10",
	"n1,c4,c4,,豆豆,dw对干皮太不友好了，起皮严重,860,2024-03-01 11:00",
	"n1,c5,c4,c4,kiki,换成虫草就好多了，推荐,210,2024-03-01 11:20",
	"n2,c6,c6,,一只猫,超方瓶遮瑕好但是有点干,98,2024-03-02 08:00",
	"n2,c7,c6,c6,橙子,超方瓶配保湿妆前还可以,12,2024-03-02 08:45",
	"n2,c8,c8,,Luna,有没有适合干皮的粉底推荐,5,2024-03-02 09:00",
	"n2,c9,c8,c8,Yuki,蓝标很水润，干皮闭眼入,430,2024-03-02 09:15",
	"n2,c10,c8,c9,Nina,蓝标+1 很推荐,66,2024-03-02 09:40",
}

var (
	positiveCues = []string{"滋润", "推荐", "水润", "不拔干", "还可以", "好多了"}
	negativeCues = []string{"卡粉", "起皮严重", "不友好", "有点干"}
	featureCues  = []string{"滋润", "水润", "卡粉", "起皮", "拔干", "遮瑕", "保湿"}
)

// keywordExtractor stands in for the model: it matches known aliases and cue words.
type keywordExtractor struct {
	names  []string
	groups map[string][]string
}

func newKeywordExtractor(aliases map[string]string) *keywordExtractor {
	names, groups := extraction.NewCanonicalizer(aliases).Groups()
	return &keywordExtractor{names: names, groups: groups}
}

func (k *keywordExtractor) Extract(_ context.Context, s threads.Serialized) ([]models.ExtractedFact, error) {
	text := strings.ToLower(s.Text)
	sentiment := models.SentimentNeutral
	switch {
	case containsAny(text, negativeCues):
		sentiment = models.SentimentNegative
	case containsAny(text, positiveCues):
		sentiment = models.SentimentPositive
	}

	var tags []string
	for _, cue := range featureCues {
		if strings.Contains(text, cue) {
			tags = append(tags, cue)
		}
	}

	var facts []models.ExtractedFact
	for _, name := range k.names {
		if !containsAny(text, k.groups[name]) {
			continue
		}
		facts = append(facts, models.ExtractedFact{
			ProductName:      name,
			Sentiment:        sentiment,
			Evidence:         "keyword match",
			FeatureTags:      tags,
			ThreadEngagement: s.Engagement,
			ThreadSize:       s.Size,
			RootID:           s.RootID,
			Preview:          extraction.Preview(s.Text),
		})
	}
	return facts, nil
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

// consoleNotifier prints reports to the terminal
type consoleNotifier struct{}

func (consoleNotifier) SendReport(rep *models.RunReport) error {
	fmt.Println("\n" + strings.Repeat("=", 70))
	fmt.Println("📊 PRODUCT RANKING REPORT")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("🆔 Run: %s\n", rep.RunID)
	fmt.Printf("🕒 Generated: %s\n", rep.GeneratedAt.Format("2006-01-02 15:04:05 UTC"))
	fmt.Printf("💬 Comments: %d in %d conversations (%s grouping)\n", rep.Records, rep.Threads, rep.Grouping)
	fmt.Printf("📈 Facts: %d\n\n", len(rep.Facts))

	if err := report.WriteSummary(os.Stdout, rep.Ranking, 10); err != nil {
		return err
	}

	for _, a := range rep.Artifacts {
		fmt.Printf("\n💾 Saved %s", a)
	}
	fmt.Println("\n" + strings.Repeat("=", 70))
	return nil
}

func (consoleNotifier) SendAlert(alert *models.Alert) error {
	fmt.Println("\n🚨 ALERT")
	fmt.Printf("Type: %s\n", alert.Type)
	fmt.Printf("Message: %s\n", alert.Message)
	return nil
}

func main() {
	fmt.Println("🤖 Comment Ranker - Test Report Generator")
	fmt.Println("=========================================")

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		fmt.Printf("❌ Error creating %s: %v\n", outputDir, err)
		os.Exit(1)
	}
	input := filepath.Join(outputDir, "sample_comments.csv")
	if err := os.WriteFile(input, []byte(strings.Join(sampleComments, "\n")+"\n"), 0644); err != nil {
		fmt.Printf("❌ Error writing sample input: %v\n", err)
		os.Exit(1)
	}

	cfg := &config.Config{
		OutputFormat: report.FormatXLSX,
		TopN:         5,
		ReplyMarkers: config.DefaultReplyMarkers,
	}

	store, err := storage.NewLocalStorage(outputDir)
	if err != nil {
		fmt.Printf("❌ Error opening storage: %v\n", err)
		os.Exit(1)
	}

	service := pipeline.NewService(cfg, newKeywordExtractor(config.DefaultAliases), store, consoleNotifier{})

	fmt.Printf("\n📊 Ranking %d sample comments offline...\n", len(sampleComments)-1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := service.Run(ctx, input); err != nil {
		fmt.Printf("❌ Error generating report: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n✅ Test report generation completed!")
	fmt.Println("\n💡 Next steps:")
	fmt.Printf("   • Open the workbook in the '%s' directory\n", outputDir)
	fmt.Println("   • Run 'go test ./internal/pipeline -v' for more detailed tests")
	fmt.Println("   • Set RANKER_API_KEY and run 'go run ./cmd/ranker <comments.xlsx>'")
}
