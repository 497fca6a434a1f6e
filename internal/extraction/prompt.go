package extraction

import (
	"fmt"
	"strings"
)

var (
	positiveCues = []string{"滋润", "服帖", "不卡粉", "好用", "回购", "本命", "亲妈", "奶油肌", "妈生皮", "绝了", "推荐"}
	negativeCues = []string{"卡粉", "拔干", "斑驳", "暗沉", "假面", "起皮", "裂开", "避雷", "难用", "脱妆", "浮粉", "氧化快"}
	agreeCues    = []string{"排", "+1", "拔草", "确实", "同意", "我也", "同感"}
)

// BuildSystemPrompt renders the fixed task instruction for a topic and alias table.
func BuildSystemPrompt(topic string, canon *Canonicalizer) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a product review analyst. You will receive one comment conversation "+
		"from a social platform: a root comment tagged [ROOT] and its replies tagged [REPLY k] "+
		"in reply order. Decide what the conversation says about products regarding: %s.\n\n", topic)

	b.WriteString("Rules:\n")
	b.WriteString("1. Read replies in context. A reply without a product name that agrees or disagrees (")
	b.WriteString(strings.Join(agreeCues, ", "))
	b.WriteString(") or uses a pronoun refers to the product discussed in the comment it answers. " +
		"Comparisons (\"better than X\") and contrasts (\"X is bad but Y works\") mention every product involved.\n")

	b.WriteString("2. Always report the canonical product name.")
	if canon != nil {
		names, groups := canon.Groups()
		if len(names) > 0 {
			b.WriteString(" Known aliases:\n")
			for _, name := range names {
				fmt.Fprintf(&b, "   - %s -> %s\n", strings.Join(quoteAll(groups[name]), ", "), name)
			}
		} else {
			b.WriteString("\n")
		}
	} else {
		b.WriteString("\n")
	}

	b.WriteString("3. Sentiment is one of Positive, Negative, Neutral. ")
	fmt.Fprintf(&b, "Positive cues: %s. Negative cues: %s. ", strings.Join(positiveCues, ", "), strings.Join(negativeCues, ", "))
	b.WriteString("Use Neutral when the conversation is off-topic, only asks where to buy, or does not judge the product.\n")
	b.WriteString("4. For each product list the concrete features users mention (texture, coverage, longevity, finish).\n")
	b.WriteString("5. Quote or paraphrase the evidence for each judgement in \"reason\".\n\n")

	b.WriteString("Reply with JSON only, no commentary:\n")
	b.WriteString(`{"products": [{"product": "<canonical name>", "sentiment": "Positive|Negative|Neutral", "reason": "<evidence>", "features": ["<feature>"]}]}`)
	b.WriteString("\nIf no product is discussed, reply {\"products\": []}.")

	return b.String()
}

// BuildUserPrompt wraps a serialized conversation.
func BuildUserPrompt(conversation string) string {
	return "Analyze this conversation:\n" + conversation
}

func quoteAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = fmt.Sprintf("%q", v)
	}
	return out
}
