package window

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/paiban/examplan/internal/metrics"
	"github.com/paiban/examplan/pkg/calendar"
	"github.com/paiban/examplan/pkg/logger"
	"github.com/paiban/examplan/pkg/model"
	"github.com/paiban/examplan/pkg/rotation"
)

// 资源可用性参数
const (
	multiplierNight = 1.5
	multiplierRest  = 1.3
	multiplierAdmin = 1.1
	multiplierBase  = 1.0

	targetSame      = 2.0
	targetDifferent = 3.0

	maxAdminPenalty = 0.2
)

// 风险因素
const (
	RiskHoliday         = "节假日"
	RiskWeekend         = "周末"
	RiskSameShortage    = "同科室考官紧张"
	RiskCrossShortage   = "异科室考官紧张"
	RiskHighStress      = "考官连续工作压力高"
	RiskHeavyUsage      = "日期使用率高"
	RiskScoringFailure  = "评分失败"
	DefaultScoreTTL     = 10 * time.Minute
	DefaultScoreWorkers = 8
)

// Input 评分所需的上下文数据
type Input struct {
	Candidate      *model.Candidate
	Examiners      []*model.Examiner
	Assignments    []*model.Assignment
	AvailableDates []string

	usage       map[string]int
	maxUsage    int
	commitments model.Commitments
	fingerprint uint64
	once        sync.Once
}

func (in *Input) prepare() {
	in.once.Do(func() {
		in.usage = model.DateUsage(in.Assignments)
		for _, u := range in.usage {
			if u > in.maxUsage {
				in.maxUsage = u
			}
		}
		in.commitments = model.BuildCommitments(in.Assignments)
		in.fingerprint = in.digest()
	})
}

// digest 评分依赖的全部输入内容的摘要，作为缓存键的一部分
func (in *Input) digest() uint64 {
	h := xxhash.New()
	write := func(parts ...string) {
		for _, p := range parts {
			_, _ = h.WriteString(p)
			_, _ = h.Write([]byte{0})
		}
	}

	if c := in.Candidate; c != nil {
		write("c", c.ID, c.Department, c.Group)
		write(c.RecommendedDepartments...)
	}
	for _, e := range in.Examiners {
		if e == nil {
			continue
		}
		write("e", e.ID, e.Department, e.Group, strconv.Itoa(e.Workload), strconv.Itoa(e.ConsecutiveDays))
	}
	for _, a := range in.Assignments {
		if a == nil {
			continue
		}
		write("a", a.CandidateID)
		for _, d := range a.Days {
			write(d.Date, d.Primary, d.Secondary, d.Backup)
		}
	}
	write("d")
	write(in.AvailableDates...)
	return h.Sum64()
}

// Scorer 多维评分器
type Scorer struct {
	rot         *rotation.Calculator
	cal         *calendar.Calendar
	interchange [2]string
	workers     int
	cache       *scoreCache
	log         *logger.PipelineLogger
}

// ScorerOption 评分器配置项
type ScorerOption func(*Scorer)

// WithCalendar 设置节假日日历
func WithCalendar(cal *calendar.Calendar) ScorerOption {
	return func(s *Scorer) {
		if cal != nil {
			s.cal = cal
		}
	}
}

// WithInterchange 设置可互换的两个科室
func WithInterchange(a, b string) ScorerOption {
	return func(s *Scorer) { s.interchange = [2]string{a, b} }
}

// WithWorkers 设置并发评分数
func WithWorkers(n int) ScorerOption {
	return func(s *Scorer) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithCacheTTL 设置评分缓存有效期，clock 为 nil 时使用 time.Now
func WithCacheTTL(ttl time.Duration, clock func() time.Time) ScorerOption {
	return func(s *Scorer) { s.cache = newScoreCache(ttl, clock) }
}

// NewScorer 创建评分器
func NewScorer(rot *rotation.Calculator, opts ...ScorerOption) *Scorer {
	if rot == nil {
		rot = rotation.NewCalculator()
	}
	s := &Scorer{
		rot:         rot,
		cal:         calendar.Empty(),
		interchange: [2]string{"一室", "二室"},
		workers:     DefaultScoreWorkers,
		cache:       newScoreCache(DefaultScoreTTL, nil),
		log:         logger.NewPipelineLogger("scorer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CacheHits 累计缓存命中次数
func (s *Scorer) CacheHits() int64 {
	return s.cache.hits.Load()
}

// ResetCache 清空评分缓存
func (s *Scorer) ResetCache() {
	s.cache.reset()
}

// scored 单个窗口的评分（不含加权）
type scored struct {
	dims       model.DimensionScores
	confidence float64
	risks      []string
}

// Score 对单个窗口评分，返回填充了评分字段的副本以及是否命中缓存
func (s *Scorer) Score(in *Input, w model.DateWindowCandidate, weights model.NormalizedWeights) (model.DateWindowCandidate, bool) {
	in.prepare()

	key := s.cacheKey(in, w)
	sc, hit := s.cache.get(key)
	if hit {
		metrics.IncCounter(metrics.MetricScoreCache, "hit")
	} else {
		metrics.IncCounter(metrics.MetricScoreCache, "miss")
		var ok bool
		sc, ok = s.safeEvaluate(in, w)
		if ok {
			s.cache.put(key, sc)
		}
	}
	metrics.IncCounter(metrics.MetricWindowsEvaluated, string(w.Strategy))

	w.Dimensions = sc.dims
	w.Confidence = sc.confidence
	w.RiskFactors = append([]string(nil), sc.risks...)
	w.Score = round4(weights.Apply(sc.dims))
	return w, hit
}

// ScoreAll 并发评分，结果保持输入顺序
func (s *Scorer) ScoreAll(ctx context.Context, in *Input, windows []*model.DateWindowCandidate, weights model.NormalizedWeights) ([]model.DateWindowCandidate, int, error) {
	in.prepare()

	results := make([]model.DateWindowCandidate, len(windows))
	var hits atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, w := range windows {
		i, w := i, w
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, hit := s.Score(in, *w, weights)
			if hit {
				hits.Add(1)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, int(hits.Load()), err
	}
	return results, int(hits.Load()), nil
}

func (s *Scorer) cacheKey(in *Input, w model.DateWindowCandidate) string {
	return fmt.Sprintf("%s|%s|%016x", in.Candidate.ID, w.Key(), in.fingerprint)
}

func (s *Scorer) safeEvaluate(in *Input, w model.DateWindowCandidate) (sc scored, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Recovered("score "+w.Key(), r)
			sc = scored{risks: []string{RiskScoringFailure}}
			ok = false
		}
	}()
	return s.evaluate(in, w), true
}

func (s *Scorer) evaluate(in *Input, w model.DateWindowCandidate) scored {
	dates := []string{w.Date1, w.Date2}
	pool := s.freePool(in, dates)

	dims := model.DimensionScores{
		ResourceAvailability:  round4(s.resourceAvailability(in, dates)),
		WorkloadBalance:       round4(s.workloadBalance(in, pool)),
		ConflictProbability:   round4(1 - s.conflictRisk(in, dates)),
		FutureFlexibility:     round4(s.futureFlexibility(in, dates)),
		ConsecutiveWorkStress: round4(s.consecutiveWorkStress(pool, w.Date1, w.Date2)),
		RecommendedMatch:      round4(s.recommendedMatch(in, dates)),
	}

	sameFree, crossFree := 0, 0
	for _, e := range pool {
		if in.commitments.IsCommitted(e.ID, w.Date1, in.Candidate.ID) ||
			in.commitments.IsCommitted(e.ID, w.Date2, in.Candidate.ID) {
			continue
		}
		if e.Department == in.Candidate.Department {
			sameFree++
		} else {
			crossFree++
		}
	}

	var risks []string
	if s.cal.IsHoliday(w.Date1) || s.cal.IsHoliday(w.Date2) {
		risks = append(risks, RiskHoliday)
	}
	if s.cal.IsWeekend(w.Date1) || s.cal.IsWeekend(w.Date2) {
		risks = append(risks, RiskWeekend)
	}
	if sameFree < 2 {
		risks = append(risks, RiskSameShortage)
	}
	if crossFree < 2 {
		risks = append(risks, RiskCrossShortage)
	}
	if dims.ConsecutiveWorkStress < 60 {
		risks = append(risks, RiskHighStress)
	}
	if in.maxUsage > 0 && s.reuse(in, dates) > 0.7 {
		risks = append(risks, RiskHeavyUsage)
	}

	depth := (math.Min(float64(sameFree), targetSame)/targetSame + math.Min(float64(crossFree), targetDifferent)/targetDifferent) / 2
	confidence := clamp01(0.5 + 0.5*depth - 0.1*float64(len(risks)))

	return scored{dims: dims, confidence: round4(confidence), risks: risks}
}

// freePool 两天均非白班的考官
func (s *Scorer) freePool(in *Input, dates []string) []*model.Examiner {
	var pool []*model.Examiner
	for _, e := range in.Examiners {
		free := true
		for _, d := range dates {
			if !s.rot.Available(e.Group, d) {
				free = false
				break
			}
		}
		if free {
			pool = append(pool, e)
		}
	}
	return pool
}

func multiplier(status model.GroupStatus) float64 {
	switch status {
	case model.StatusNightShift:
		return multiplierNight
	case model.StatusRest:
		return multiplierRest
	case model.StatusAdministrative:
		return multiplierAdmin
	default:
		return multiplierBase
	}
}

func (s *Scorer) resourceAvailability(in *Input, dates []string) float64 {
	worst := 1.0
	for _, d := range dates {
		var same, cross float64
		sameCount, sameAdmin := 0, 0
		for _, e := range in.Examiners {
			status := s.rot.Status(e.Group, d)
			if status == model.StatusDayShift || in.commitments.IsCommitted(e.ID, d, in.Candidate.ID) {
				continue
			}
			if e.Department == in.Candidate.Department {
				same += multiplier(status)
				sameCount++
				if status == model.StatusAdministrative {
					sameAdmin++
				}
			} else {
				cross += multiplier(status)
			}
		}

		score := 0.4*math.Min(same/targetSame, 1) + 0.6*math.Min(cross/targetDifferent, 1)
		if sameCount > 0 {
			if ratio := float64(sameAdmin) / float64(sameCount); ratio > 0.5 {
				score *= 1 - maxAdminPenalty*(ratio-0.5)/0.5
			}
		}
		worst = math.Min(worst, score)
	}
	return clamp01(worst)
}

func (s *Scorer) workloadBalance(in *Input, pool []*model.Examiner) float64 {
	if len(pool) == 0 {
		return 0
	}
	index := make(map[string]int, len(pool))
	primary := make([]float64, len(pool))
	backup := make([]float64, len(pool))
	for i, e := range pool {
		index[e.ID] = i
		primary[i] = float64(e.Workload)
	}
	for _, a := range in.Assignments {
		for _, d := range a.Days {
			if i, ok := index[d.Primary]; ok {
				primary[i]++
			}
			if i, ok := index[d.Secondary]; ok {
				primary[i]++
			}
			if i, ok := index[d.Backup]; ok {
				backup[i]++
			}
		}
	}
	return clamp01(0.7*balance(primary) + 0.3*balance(backup))
}

// balance 1 - 标准差/max(均值, 0.5)
func balance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	std := math.Sqrt(sq / float64(len(xs)))
	return clamp01(1 - std/math.Max(mean, 0.5))
}

func (s *Scorer) reuse(in *Input, dates []string) float64 {
	if in.maxUsage == 0 {
		return 0
	}
	total := 0
	for _, d := range dates {
		total += in.usage[d]
	}
	return float64(total) / float64(len(dates)) / float64(in.maxUsage)
}

func (s *Scorer) conflictRisk(in *Input, dates []string) float64 {
	var holiday, weekend float64
	for _, d := range dates {
		if s.cal.IsHoliday(d) {
			holiday = 1
		}
		if s.cal.IsWeekend(d) {
			weekend = 1
		}
	}
	return math.Min(1, 0.6*s.reuse(in, dates)+0.3*holiday+0.1*weekend)
}

func (s *Scorer) futureFlexibility(in *Input, dates []string) float64 {
	available := NormalizeDates(in.AvailableDates)
	if len(available) == 0 {
		return 0
	}

	var total float64
	for _, d := range available {
		total += float64(in.usage[d])
	}
	mean := total / float64(len(available))

	windowUsage := float64(in.usage[dates[0]]+in.usage[dates[1]]) / 2
	closeness := 1 - math.Abs(windowUsage-mean)/math.Max(float64(in.maxUsage), 1)

	inWindow := map[string]bool{dates[0]: true, dates[1]: true}
	open := 0
	for _, d := range available {
		if !inWindow[d] && in.usage[d] == 0 {
			open++
		}
	}
	openFraction := float64(open) / float64(len(available))

	return clamp01(0.6*clamp01(closeness) + 0.4*openFraction)
}

// consecutiveWorkStress 前一天夜班或后一天白班的考官会形成 3-4 天连续工作
func (s *Scorer) consecutiveWorkStress(pool []*model.Examiner, date1, date2 string) float64 {
	if len(pool) == 0 {
		return 100
	}
	before := model.AddDays(date1, -1)
	after := model.AddDays(date2, 1)

	count := 0
	for _, e := range pool {
		if s.rot.Status(e.Group, before) == model.StatusNightShift {
			count++
		}
		if s.rot.Status(e.Group, after) == model.StatusDayShift {
			count++
		}
	}
	units := 50 * float64(count) / float64(2*len(pool))
	return math.Max(0, 100-2*units)
}

func (s *Scorer) interchangeable(a, b string) bool {
	if a == b {
		return true
	}
	x, y := s.interchange[0], s.interchange[1]
	if x == "" || y == "" {
		return false
	}
	return (a == x && b == y) || (a == y && b == x)
}

func (s *Scorer) recommendedMatch(in *Input, dates []string) float64 {
	recs := in.Candidate.RecommendedDepartments
	if len(recs) == 0 {
		return 1
	}
	matched := 0
	for _, rec := range recs {
		rec = strings.TrimSpace(rec)
		for _, e := range in.Examiners {
			if !s.interchangeable(rec, e.Department) {
				continue
			}
			if s.freeAndUncommitted(in, e, dates) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(recs))
}

func (s *Scorer) freeAndUncommitted(in *Input, e *model.Examiner, dates []string) bool {
	for _, d := range dates {
		if !s.rot.Available(e.Group, d) || in.commitments.IsCommitted(e.ID, d, in.Candidate.ID) {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// scoreCache 带 TTL 的评分缓存
type scoreCache struct {
	ttl     time.Duration
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]cacheEntry
	hits    atomic.Int64
}

type cacheEntry struct {
	value   scored
	expires time.Time
}

func newScoreCache(ttl time.Duration, clock func() time.Time) *scoreCache {
	if ttl <= 0 {
		ttl = DefaultScoreTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &scoreCache{ttl: ttl, now: clock, entries: make(map[string]cacheEntry)}
}

func (c *scoreCache) get(key string) (scored, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return scored{}, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return scored{}, false
	}
	c.hits.Add(1)
	return e.value, true
}

func (c *scoreCache) put(key string, v scored) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: v, expires: c.now().Add(c.ttl)}
}

func (c *scoreCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
