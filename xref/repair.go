package xref

import (
	"errors"
	"io"

	"pdfbatch/ir"
	"pdfbatch/recovery"
	"pdfbatch/scanner"
)

// Repair rebuilds a table by scanning the whole file for "N G obj"
// headers and taking the last trailer dictionary it finds. Later
// definitions of an object number win, which matches how incremental
// updates shadow earlier ones. The returned notes describe what the
// scan had to patch over.
func Repair(r io.ReaderAt) (*Table, []string, error) {
	strategy := recovery.NewLenient()
	s := scanner.New(r, scanner.Config{Recovery: strategy})
	t := &Table{entries: make(map[int]entry)}
	var lastTrailer *ir.Dict

	for {
		tok, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// Damaged region; step past it and keep scanning.
			if seekErr := s.SeekTo(s.Position() + 1); seekErr != nil {
				break
			}
			continue
		}
		switch {
		case tok.Type == scanner.TokenNumber && tok.IsInt:
			genTok, err := s.Next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return finishRepair(t, lastTrailer, strategy)
				}
				continue
			}
			if genTok.Type != scanner.TokenNumber || !genTok.IsInt {
				// The second token may itself matter (e.g. trailer);
				// hand it back to the main loop.
				if seekErr := s.SeekTo(genTok.Pos); seekErr != nil {
					return nil, nil, seekErr
				}
				continue
			}
			objTok, err := s.Next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return finishRepair(t, lastTrailer, strategy)
				}
				continue
			}
			if objTok.Type == scanner.TokenKeyword && objTok.Str == "obj" {
				t.entries[int(tok.Int)] = entry{offset: tok.Pos, gen: int(genTok.Int)}
				continue
			}
			// "A B C obj" must still find "B C obj": rewind to the
			// second number and retry from there.
			if seekErr := s.SeekTo(genTok.Pos); seekErr != nil {
				return nil, nil, seekErr
			}
		case tok.Type == scanner.TokenKeyword && tok.Str == "trailer":
			dict, err := parseTrailerDict(s)
			if err == nil {
				lastTrailer = dict
			}
		}
	}
	return finishRepair(t, lastTrailer, strategy)
}

func finishRepair(t *Table, trailer *ir.Dict, strategy *recovery.Lenient) (*Table, []string, error) {
	if len(t.entries) == 0 {
		return nil, strategy.Notes, errors.New("xref: repair found no objects")
	}
	if trailer == nil {
		trailer = ir.NewDict()
		trailer.Set("Size", ir.Int(int64(len(t.entries)+1)))
	}
	t.Trailer = trailer
	return t, strategy.Notes, nil
}
