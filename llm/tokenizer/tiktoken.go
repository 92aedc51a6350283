package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenTokenizer 为 OpenAI 系列模型提供精确计数。
type TiktokenTokenizer struct {
	model    string
	encoding string
	enc      *tiktoken.Tiktoken
}

type loadedEncoding struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// encodings 按编码名缓存，进程内每种编码只加载一次
var encodings sync.Map

func loadEncoding(name string) (*tiktoken.Tiktoken, error) {
	v, _ := encodings.LoadOrStore(name, &loadedEncoding{})
	le := v.(*loadedEncoding)
	le.once.Do(func() {
		le.enc, le.err = tiktoken.GetEncoding(name)
	})
	return le.enc, le.err
}

// encodingFor 将模型名映射到 tiktoken 编码；4o 系列使用 o200k_base
func encodingFor(model string) string {
	if strings.HasPrefix(model, "gpt-4o") || strings.HasPrefix(model, "o1") {
		return "o200k_base"
	}
	return "cl100k_base"
}

// NewTiktokenTokenizer 为给定模型创建 tiktoken 分词器，编码数据延迟加载。
func NewTiktokenTokenizer(model string) *TiktokenTokenizer {
	return &TiktokenTokenizer{model: model, encoding: encodingFor(model)}
}

// init 延迟初始化编码（首次使用时可能需要下载 BPE 数据）
func (t *TiktokenTokenizer) init() error {
	if t.enc != nil {
		return nil
	}
	enc, err := loadEncoding(t.encoding)
	if err != nil {
		return fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
	}
	t.enc = enc
	return nil
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *TiktokenTokenizer) CountMessages(messages []Message) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}

	total := 0
	for _, msg := range messages {
		// 每条消息的开销: <|start|>role\n content<|end|>\n
		total += 4
		total += len(t.enc.Encode(msg.Content, nil, nil))
		total += len(t.enc.Encode(msg.Role, nil, nil))
	}
	total += 3 // conversation-end overhead
	return total, nil
}

func (t *TiktokenTokenizer) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}
