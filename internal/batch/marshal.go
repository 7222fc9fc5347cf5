package batch

import (
	"encoding/json"

	"github.com/relaygw/gateway/content"
)

func marshalContent(blocks []content.Block) (string, error) {
	b, err := json.Marshal(blocks)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalContent(s string) ([]content.Block, error) {
	var blocks []content.Block
	if s == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(s), &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}
