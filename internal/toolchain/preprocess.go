package toolchain

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/aristath/pkgbuild/internal/cache"
	"github.com/aristath/pkgbuild/internal/config"
	"github.com/aristath/pkgbuild/internal/scheduler"
)

// PreprocessBuilder regenerates OCaml sources from lexer (.mll) and parser
// (.mly) definitions that are new or newer than at the last good run.
type PreprocessBuilder struct {
	Toolchain config.Toolchain
	Runner    *Runner
}

// Build implements scheduler.Builder.
func (b *PreprocessBuilder) Build(ctx context.Context, req scheduler.BuildRequest) cache.BuildResult {
	res := req.Resource
	lastGood := req.PreviousResource()
	retry := !req.PreviousSucceeded()

	var generated, lexers, parsers []string
	for i, src := range res.SourceFiles {
		ext := filepath.Ext(src)
		if ext != ".mll" && ext != ".mly" {
			continue
		}
		base := strings.TrimSuffix(src, ext)
		generated = append(generated, base+".ml")
		if ext == ".mly" {
			generated = append(generated, base+".mli")
		}

		if !retry && lastGood != nil {
			if then, ok := lastGood.MTimeOf(src); ok && then >= res.SourceMTimes[i] {
				continue
			}
		}
		if ext == ".mly" {
			parsers = append(parsers, src)
		} else {
			lexers = append(lexers, src)
		}
	}

	computed := cache.ComputedData{Generated: generated}
	if len(lexers) == 0 && len(parsers) == 0 {
		return cache.BuildResult{Computed: computed}
	}

	var commands []string
	for _, src := range parsers {
		commands = append(commands, Expand(b.Toolchain.Yacc, Vars{"file": Quote(src)}))
	}
	for _, src := range lexers {
		commands = append(commands, Expand(b.Toolchain.Lex, Vars{"file": Quote(src)}))
	}

	return cache.BuildResult{
		BuildStep:           b.Runner.Run(ctx, res.RealPath, commands),
		Computed:            computed,
		EffectsWholeProject: true,
		EffectsDependents:   true,
	}
}
