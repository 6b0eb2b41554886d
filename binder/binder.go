// Package binder turns a matched template plus an intent into executable SQL
// by recognizing the syntactic context around each placeholder and emitting
// the corresponding intent field as a literal.
package binder

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/carenav-org/querykit/intent"
	"github.com/carenav-org/querykit/templates"
)

// ErrTemplateNotApplicable reports a template whose placeholders cannot all
// be filled from the intent. The caller treats this as a non-match.
var ErrTemplateNotApplicable = errors.New("template not applicable to intent")

// DRGResolver looks up a DRG code for a free-text procedure phrase.
type DRGResolver interface {
	Resolve(ctx context.Context, phrase string) (string, error)
	Description(ctx context.Context, code string) (string, error)
}

type Config struct {
	Resolver     DRGResolver
	Logger       *zap.Logger
	DefaultLimit int
	MaxRows      int
}

type Binder struct {
	resolver     DRGResolver
	log          *zap.Logger
	defaultLimit int
	maxRows      int
}

func New(cfg Config) (*Binder, error) {
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("drg resolver is required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	defaultLimit := cfg.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	maxRows := cfg.MaxRows
	if maxRows <= 0 {
		maxRows = 1000
	}
	return &Binder{
		resolver:     cfg.Resolver,
		log:          log,
		defaultLimit: defaultLimit,
		maxRows:      maxRows,
	}, nil
}

// value is one resolved placeholder: the literal text plus how to emit it.
type value struct {
	text     string
	numeric  bool
	wildcard bool // wrap as '%text%' for ILIKE/LIKE positions
}

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

// Bind produces executable SQL for tpl, or ErrTemplateNotApplicable when the
// intent lacks a field the template requires. The emitted SQL contains no
// remaining placeholders.
func (b *Binder) Bind(ctx context.Context, tpl templates.Template, in intent.Intent) (string, error) {
	raw := tpl.RawSQL
	k := templates.PlaceholderCount(raw)
	if k == 0 {
		return raw, nil
	}

	values := make(map[int]value, k)
	for _, loc := range placeholderRe.FindAllStringSubmatchIndex(raw, -1) {
		n, err := strconv.Atoi(raw[loc[2]:loc[3]])
		if err != nil || n < 1 {
			continue
		}
		if _, done := values[n]; done {
			continue
		}
		v, err := b.bindOne(ctx, contextBefore(raw, loc[0]), in)
		if err != nil {
			b.log.Debug("placeholder unbindable",
				zap.Int64("template_id", tpl.ID),
				zap.Int("placeholder", n),
				zap.Error(err),
			)
			return "", fmt.Errorf("%w: $%d: %v", ErrTemplateNotApplicable, n, err)
		}
		values[n] = v
	}

	if len(values) != k {
		return "", fmt.Errorf("%w: bound %d of %d placeholders", ErrTemplateNotApplicable, len(values), k)
	}

	bound := placeholderRe.ReplaceAllStringFunc(raw, func(m string) string {
		n, _ := strconv.Atoi(m[1:])
		return emit(values[n])
	})
	if placeholderRe.MatchString(bound) {
		return "", fmt.Errorf("%w: placeholders remain after binding", ErrTemplateNotApplicable)
	}
	return bound, nil
}

// bindContext is the lowered operator and up to three preceding tokens for
// one placeholder occurrence.
type bindContext struct {
	tokens   []string // preceding tokens, nearest last
	operator string   // token immediately before the placeholder
}

func contextBefore(sql string, pos int) bindContext {
	fields := strings.Fields(strings.ToLower(sql[:pos]))
	if len(fields) > 3 {
		fields = fields[len(fields)-3:]
	}
	bc := bindContext{tokens: fields}
	if len(fields) > 0 {
		bc.operator = fields[len(fields)-1]
	}
	return bc
}

// column returns the token the operator applies to, with any table alias
// stripped: "pp.provider_state" becomes "provider_state".
func (bc bindContext) column() string {
	if len(bc.tokens) < 2 {
		return ""
	}
	col := bc.tokens[len(bc.tokens)-2]
	if i := strings.LastIndexByte(col, '.'); i >= 0 {
		col = col[i+1:]
	}
	return col
}

func (b *Binder) bindOne(ctx context.Context, bc bindContext, in intent.Intent) (value, error) {
	if bc.operator == "limit" {
		limit := in.Limit
		if limit <= 0 {
			limit = b.defaultLimit
		}
		if limit > b.maxRows {
			limit = b.maxRows
		}
		return value{text: strconv.Itoa(limit), numeric: true}, nil
	}

	col := bc.column()
	switch {
	case col == "drg_code" && bc.operator == "=":
		code, err := b.drgCode(ctx, in)
		if err != nil {
			return value{}, err
		}
		return value{text: code}, nil

	case col == "drg_description" && isPatternOp(bc.operator):
		text, err := b.procedureText(ctx, in)
		if err != nil {
			return value{}, err
		}
		return value{text: text, wildcard: true}, nil

	case col == "provider_state" && bc.operator == "=":
		if in.State == "" {
			return value{}, fmt.Errorf("intent has no state")
		}
		return value{text: in.State}, nil

	case col == "provider_city" && isPatternOp(bc.operator):
		if in.City == "" {
			return value{}, fmt.Errorf("intent has no city")
		}
		return value{text: in.City, wildcard: true}, nil

	case col == "provider_zip_code" && isPatternOp(bc.operator):
		if in.ZipCode == "" {
			return value{}, fmt.Errorf("intent has no zip code")
		}
		return value{text: in.ZipCode, wildcard: true}, nil

	case col == "overall_rating" && bc.operator == ">=":
		if in.MinRating <= 0 {
			return value{}, fmt.Errorf("intent has no minimum rating")
		}
		return value{text: strconv.FormatFloat(in.MinRating, 'f', -1, 64), numeric: true}, nil

	case (col == "average_covered_charges" || col == "average_total_payments") && bc.operator == "<=":
		if in.MaxCost <= 0 {
			return value{}, fmt.Errorf("intent has no maximum cost")
		}
		return value{text: strconv.FormatFloat(in.MaxCost, 'f', -1, 64), numeric: true}, nil

	case col == "procedure_count" || (bc.operator == ">=" && strings.Contains(strings.Join(bc.tokens, " "), "count(")):
		// HAVING COUNT(DISTINCT ...) >= $n thresholds default to 2.
		return value{text: "2", numeric: true}, nil
	}

	return value{}, fmt.Errorf("unrecognized context %q %s", strings.Join(bc.tokens, " "), bc.operator)
}

func isPatternOp(op string) bool {
	return op == "ilike" || op == "like"
}

// drgCode prefers an explicit code and otherwise resolves the procedure
// phrase through the vector lookup.
func (b *Binder) drgCode(ctx context.Context, in intent.Intent) (string, error) {
	if in.DRGCode != "" {
		return in.DRGCode, nil
	}
	if in.ProcedureText == "" {
		return "", fmt.Errorf("intent has neither drg code nor procedure text")
	}
	code, err := b.resolver.Resolve(ctx, in.ProcedureText)
	if err != nil {
		return "", fmt.Errorf("resolve drg: %w", err)
	}
	if code == "" {
		return "", fmt.Errorf("no drg match for %q", in.ProcedureText)
	}
	return code, nil
}

// procedureText prefers the phrase from the question, falling back to the
// canonical description of an explicit DRG code.
func (b *Binder) procedureText(ctx context.Context, in intent.Intent) (string, error) {
	if in.ProcedureText != "" {
		return in.ProcedureText, nil
	}
	if in.DRGCode == "" {
		return "", fmt.Errorf("intent has no procedure text")
	}
	desc, err := b.resolver.Description(ctx, in.DRGCode)
	if err != nil {
		return "", fmt.Errorf("drg description: %w", err)
	}
	if desc == "" {
		return "", fmt.Errorf("unknown drg code %q", in.DRGCode)
	}
	return desc, nil
}

// emit renders one bound value as a SQL literal. Text values are escaped by
// doubling single quotes; pattern positions get %-wrapped.
func emit(v value) string {
	if v.numeric {
		return v.text
	}
	escaped := strings.ReplaceAll(v.text, "'", "''")
	if v.wildcard {
		return "'%" + escaped + "%'"
	}
	return "'" + escaped + "'"
}
