package convert

import (
	"context"
	"fmt"
	"os"
	"unicode/utf8"
)

// maxTextBytes caps how much of a text file is read into a Document.
const maxTextBytes = 32 << 20

// TextConverter reads a UTF-8 file into a single Document.
type TextConverter struct{}

// Convert implements Converter.
func (TextConverter) Convert(ctx context.Context, in Input) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	info, err := os.Stat(in.LocalPath)
	if err != nil {
		return Output{}, fmt.Errorf("stat %s: %w", in.LocalPath, err)
	}
	if info.Size() > maxTextBytes {
		return Output{Success: false, Reason: fmt.Sprintf("text file too large (%d bytes)", info.Size())}, nil
	}
	data, err := os.ReadFile(in.LocalPath)
	if err != nil {
		return Output{}, fmt.Errorf("read %s: %w", in.LocalPath, err)
	}
	if !utf8.Valid(data) {
		return Output{Success: false, Reason: "content is not valid UTF-8"}, nil
	}
	return Output{
		Success: true,
		Documents: []Document{{
			Content:  string(data),
			Metadata: map[string]string{"filename": in.Filename, "source": in.LocalPath},
		}},
	}, nil
}

// StagedConverter accepts binary formats whose extraction happens further
// downstream. It confirms the staged file is present and describes it.
type StagedConverter struct {
	Kind string
}

// Convert implements Converter.
func (c StagedConverter) Convert(ctx context.Context, in Input) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	info, err := os.Stat(in.LocalPath)
	if err != nil {
		return Output{}, fmt.Errorf("stat %s: %w", in.LocalPath, err)
	}
	return Output{
		Success: true,
		Documents: []Document{{
			Metadata: map[string]string{
				"filename":    in.Filename,
				"kind":        c.Kind,
				"staged_path": in.LocalPath,
				"size":        fmt.Sprint(info.Size()),
			},
		}},
	}, nil
}
