// Package batch converts every compiled script under a game directory.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"igiconv/internal/ast"
	"igiconv/internal/cache"
	"igiconv/internal/callgraph"
	"igiconv/internal/config"
	"igiconv/internal/decompile"
	"igiconv/internal/disasm"
	"igiconv/internal/emit"
	"igiconv/internal/output"
	"igiconv/internal/qvmfmt"
)

// ScriptName is the recompile script written to the scripts directory.
const ScriptName = "encode-all-qvm.qsc"

// Options controls one batch run.
type Options struct {
	GameDir    string
	WorkDir    string
	DecodedDir string
	ScriptsDir string
	GraphDir   string
	CachePath  string
	ReportPath string

	Workers   int
	Decompile qvmfmt.Options
	Graph     bool // write per-module CFGs, the call graph and call/string records
	UseCache  bool
	FailFast  bool // abort on the first failed module

	Log *zap.Logger

	// OnCreated is called once per written script. Calls are serialized.
	OnCreated func(path string)
}

// FromConfig derives batch options from a loaded config.
func FromConfig(cfg *config.Config) Options {
	return Options{
		GameDir:    cfg.GameDir,
		WorkDir:    cfg.WorkDir,
		DecodedDir: cfg.DecodedDir(),
		ScriptsDir: cfg.ScriptsDir(),
		GraphDir:   cfg.GraphDir(),
		CachePath:  cfg.CachePath(),
		ReportPath: cfg.ReportPath(),
		Workers:    cfg.Workers,
		Decompile:  cfg.Options(),
		Graph:      cfg.Graph,
		UseCache:   cfg.Cache,
	}
}

// Status is the outcome of one module.
type Status string

const (
	StatusConverted Status = "converted"
	StatusCached    Status = "cached"
	StatusFailed    Status = "failed"
)

// Item is the report line of one module.
type Item struct {
	Input  string        `json:"input"` // relative to the game directory
	Output string        `json:"output,omitempty"`
	Hash   string        `json:"hash,omitempty"`
	Status Status        `json:"status"`
	Diags  []qvmfmt.Diag `json:"diags,omitempty"`
	Error  string        `json:"error,omitempty"`
	Kind   string        `json:"kind,omitempty"` // fatal error kind
}

// Report summarizes a batch run.
type Report struct {
	GameDir   string    `json:"game_dir"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	Total     int       `json:"total"`
	Converted int       `json:"converted"`
	Cached    int       `json:"cached"`
	Failed    int       `json:"failed"`
	Degraded  int       `json:"degraded"` // converted or cached with diagnostics
	Script    string    `json:"script,omitempty"`
	CallGraph string    `json:"call_graph,omitempty"`
	Items     []Item    `json:"items"`
}

// Find returns the *.qvm files under root as sorted slash-separated
// paths relative to root.
func Find(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || !strings.EqualFold(filepath.Ext(path), ".qvm") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("batch: walk %s: %w", root, err)
	}
	sort.Strings(out)
	return out, nil
}

// OutputPath maps an input path relative to the game directory onto its
// decoded script.
func OutputPath(decodedDir, rel string) string {
	rel = strings.TrimSuffix(rel, filepath.Ext(rel)) + ".qsc"
	return filepath.Join(decodedDir, filepath.FromSlash(rel))
}

type runner struct {
	opts  Options
	log   *zap.Logger
	cache *cache.Manifest

	mu      sync.Mutex // guards OnCreated, scripts, records
	scripts []callgraph.Script
	calls   []disasm.CallRecord
	strs    []disasm.StringRefRecord
}

// Run converts every module under opts.GameDir. Modules are decompiled
// concurrently, at most opts.Workers at a time. Each module owns its
// output path, so workers share only the cache manifest and the report.
//
// A failed module is logged and recorded; with FailFast the first failure
// cancels the remaining modules and is returned. The report, the cache
// and the recompile script are written in every case except a walk error.
func Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	r := &runner{opts: opts, log: opts.Log}
	if r.log == nil {
		r.log = zap.NewNop()
	}

	rep := &Report{GameDir: opts.GameDir, Started: time.Now()}
	files, err := Find(opts.GameDir)
	if err != nil {
		return nil, err
	}
	rep.Total = len(files)
	rep.Items = make([]Item, len(files))
	r.log.Info("batch start",
		zap.String("game_dir", opts.GameDir),
		zap.Int("modules", len(files)),
		zap.Int("workers", opts.Workers),
		zap.Stringer("mode", opts.Decompile.Mode))

	r.cache = cache.New()
	if opts.UseCache && opts.CachePath != "" {
		if r.cache, err = cache.Load(opts.CachePath); err != nil {
			r.log.Warn("cache unreadable, starting empty", zap.Error(err))
			r.cache = cache.New()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, rel := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				rep.Items[i] = Item{Input: rel, Status: StatusFailed, Error: err.Error()}
				return err
			}
			item, err := r.convert(rel)
			rep.Items[i] = item
			if err != nil && opts.FailFast {
				return fmt.Errorf("batch: %s: %w", rel, err)
			}
			return nil
		})
	}
	runErr := g.Wait()
	if runErr == nil {
		runErr = ctx.Err()
	}

	for i := range rep.Items {
		it := &rep.Items[i]
		if it.Input == "" {
			*it = Item{Input: files[i], Status: StatusFailed, Error: "not started"}
		}
		switch it.Status {
		case StatusConverted:
			rep.Converted++
		case StatusCached:
			rep.Cached++
		case StatusFailed:
			rep.Failed++
		}
		if it.Status != StatusFailed && len(it.Diags) > 0 {
			rep.Degraded++
		}
	}

	errs := []error{runErr}
	if opts.ScriptsDir != "" {
		path, err := r.writeScript(rep.Items)
		errs = append(errs, err)
		rep.Script = path
	}
	if opts.Graph && opts.GraphDir != "" {
		path, err := r.writeGraphs()
		errs = append(errs, err)
		rep.CallGraph = path
	}
	if opts.UseCache && opts.CachePath != "" {
		errs = append(errs, r.cache.Save(opts.CachePath))
	}
	rep.Finished = time.Now()
	if opts.ReportPath != "" {
		errs = append(errs, output.WriteJSON(opts.ReportPath, rep))
	}

	r.log.Info("batch done",
		zap.Int("converted", rep.Converted),
		zap.Int("cached", rep.Cached),
		zap.Int("failed", rep.Failed),
		zap.Int("degraded", rep.Degraded),
		zap.Duration("elapsed", rep.Finished.Sub(rep.Started)))
	return rep, errors.Join(errs...)
}

// convert handles one module. The returned error is the fatal
// decompilation error, already recorded in the item.
func (r *runner) convert(rel string) (Item, error) {
	item := Item{Input: rel}
	log := r.log.With(zap.String("script", rel))
	src := filepath.Join(r.opts.GameDir, filepath.FromSlash(rel))
	dst := OutputPath(r.opts.DecodedDir, rel)

	fail := func(err error) (Item, error) {
		item.Status = StatusFailed
		item.Output = ""
		item.Error = err.Error()
		item.Kind = string(qvmfmt.KindOf(err))
		r.cache.Forget(rel)
		log.Error("decompile failed", zap.Error(err))
		return item, err
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return fail(fmt.Errorf("batch: read: %w", err))
	}
	sum := cache.Hash(data)
	item.Hash = sum.String()

	if r.opts.UseCache {
		e, ok := r.cache.Fresh(rel, sum)
		if ok && e.Diags > 0 && r.opts.Decompile.Mode == qvmfmt.ModeStrict {
			// Converted in best-effort mode; strict must see the diagnostics again.
			ok = false
		}
		if ok && e.Output == dst {
			item.Status = StatusCached
			item.Output = dst
			log.Debug("unchanged, skipped", zap.String("output", dst))
			if !r.opts.Graph {
				return item, nil
			}
		}
	}

	res, err := decompile.Decompile(rel, data, r.opts.Decompile)
	if err != nil {
		return fail(err)
	}
	item.Diags = res.Diags.Items()
	for _, d := range item.Diags {
		log.Warn("diagnostic",
			zap.String("kind", string(d.Kind)),
			zap.String("offset", fmt.Sprintf("0x%x", d.Offset)),
			zap.String("msg", d.Msg))
	}

	if r.opts.Graph {
		if err := r.collect(rel, res); err != nil {
			return fail(err)
		}
	}
	if item.Status == StatusCached {
		return item, nil
	}

	if err := output.WriteQSC(dst, res.Text); err != nil {
		return fail(err)
	}
	item.Status = StatusConverted
	item.Output = dst
	r.cache.Put(rel, cache.Entry{
		Hash:        sum,
		Output:      dst,
		Diags:       len(item.Diags),
		ConvertedAt: time.Now(),
	})
	log.Info("created", zap.String("output", dst), zap.Int("diags", len(item.Diags)))
	if r.opts.OnCreated != nil {
		r.mu.Lock()
		r.opts.OnCreated(dst)
		r.mu.Unlock()
	}
	return item, nil
}

// collect writes the module CFG and gathers its calls for the batch graph.
func (r *runner) collect(rel string, res *decompile.Result) error {
	lcfg, _ := callgraph.BuildFuncCFG(res.CFG, res.Module, true)
	dot := render.DOTCFG(&lattice.CFGGraph{Funcs: []*lattice.FuncCFG{lcfg}}, rel)
	path := filepath.Join(r.opts.GraphDir, "cfg", filepath.FromSlash(strings.TrimSuffix(rel, filepath.Ext(rel))+".dot"))
	if err := output.WriteDOT(path, dot); err != nil {
		return err
	}

	calls := disasm.CallRecords(rel, res.Program, res.Module)
	strs := disasm.StringRefs(rel, res.Insts, res.Module)
	r.mu.Lock()
	r.scripts = append(r.scripts, callgraph.Script{Name: rel, Calls: calls})
	r.calls = append(r.calls, calls...)
	r.strs = append(r.strs, strs...)
	r.mu.Unlock()
	return nil
}

// writeGraphs writes the batch call graph and the JSONL records.
func (r *runner) writeGraphs() (string, error) {
	sort.Slice(r.scripts, func(i, j int) bool { return r.scripts[i].Name < r.scripts[j].Name })
	sort.SliceStable(r.calls, func(i, j int) bool { return r.calls[i].Script < r.calls[j].Script })
	sort.SliceStable(r.strs, func(i, j int) bool { return r.strs[i].Script < r.strs[j].Script })

	cg := callgraph.BuildCallGraph(r.scripts)
	path := filepath.Join(r.opts.GraphDir, "callgraph.dot")
	if err := output.WriteDOT(path, render.DOT(cg, "callgraph")); err != nil {
		return "", err
	}
	if err := output.WriteJSONL(filepath.Join(r.opts.GraphDir, "calls.jsonl"), r.calls); err != nil {
		return "", err
	}
	if err := output.WriteJSONL(filepath.Join(r.opts.GraphDir, "string_refs.jsonl"), r.strs); err != nil {
		return "", err
	}
	r.log.Info("call graph written", zap.String("path", path),
		zap.Int("nodes", len(cg.Nodes)), zap.Int("edges", len(cg.Edges)))
	return path, nil
}

// writeScript writes the recompile script: one CompileScript call per
// decoded module, with the path relative to the work directory.
func (r *runner) writeScript(items []Item) (string, error) {
	var body []ast.Stmt
	for _, it := range items {
		if it.Status == StatusFailed {
			continue
		}
		rel, err := filepath.Rel(r.opts.WorkDir, it.Output)
		if err != nil {
			rel = it.Output
		}
		body = append(body, &ast.ExprStmt{X: &ast.Call{
			Fn:   &ast.Var{Name: "CompileScript"},
			Args: []ast.Expr{ast.String(filepath.ToSlash(rel))},
		}})
	}
	path := filepath.Join(r.opts.ScriptsDir, ScriptName)
	if err := output.WriteQSC(path, emit.Source(body)); err != nil {
		return "", err
	}
	r.log.Info("recompile script saved", zap.String("path", path), zap.Int("scripts", len(body)))
	return path, nil
}
