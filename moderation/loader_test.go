package moderation

import (
	"chat-app/errors"
	"fmt"
	"log/slog"
	"testing"
	"testing/fstest"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func TestLoadAll(t *testing.T) {
	req := require.New(t)
	fsys := fstest.MapFS{
		"words/en.txt":    {Data: []byte("badger\r\nsnake\n\n  snake  \n")},
		"words/ja.txt":    {Data: []byte("ばか\n")},
		"words/README.md": {Data: []byte("ignored")},
	}

	data, err := LoadAll(fsys, "words")

	req.NoError(err)
	req.ElementsMatch([]string{"badger", "snake", "ばか"}, data.Words)
	req.ElementsMatch([]string{"en", "ja"}, data.Languages)
}

func TestLoadAll_Empty(t *testing.T) {
	_, err := LoadAll(fstest.MapFS{"words/en.txt": {Data: []byte("\n")}}, "words")
	require.ErrorIs(t, err, errors.ErrEmptyWords)
}

func BenchmarkNewModerator(b *testing.B) {
	words := make([]string, 10_000)
	for i := range words {
		words[i] = fmt.Sprintf("word%d", i)
	}
	log := logs.GetLoggerFromLevel(slog.LevelError)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := NewModerator(words, '*', log); err != nil {
			b.Fatal(err)
		}
	}
}
