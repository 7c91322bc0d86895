package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/autoharvest/internal/crawler"
	"github.com/JakeFAU/autoharvest/internal/progress"
)

// fakeItem is one review behind an item trigger.
type fakeItem struct {
	author  string
	labels  []string
	values  []string
	openErr error
	panics  bool
}

func item(author string, kv ...string) fakeItem {
	it := fakeItem{author: author}
	for i := 0; i+1 < len(kv); i += 2 {
		it.labels = append(it.labels, kv[i])
		it.values = append(it.values, kv[i+1])
	}
	return it
}

type fakeEntity struct {
	name        string
	activateErr error
	noSection   bool
	itemsErr    map[int]error
	nextErr     error
	pages       [][]fakeItem
	// table is the parameter table behind the card; nil means the card has
	// no parameter link unless tableErr is set.
	table    *crawler.TableSnapshot
	tableErr error
}

// fakeSite models a listing of entities with paginated item lists. log
// records every browser action in order.
type fakeSite struct {
	entities []*fakeEntity
	// passes lists the entity names rendered per listing pass; nil renders
	// every entity on every pass.
	passes  [][]string
	heights []int64

	passIdx   int
	heightIdx int
	log       []string
}

func newSite(entities ...*fakeEntity) *fakeSite {
	return &fakeSite{entities: entities, heights: []int64{100}}
}

func (s *fakeSite) entity(name string) *fakeEntity {
	for _, e := range s.entities {
		if e.name == name {
			return e
		}
	}
	return nil
}

func (s *fakeSite) opened(prefix string) []string {
	var out []string
	for _, l := range s.log {
		if len(l) >= len(prefix) && l[:len(prefix)] == prefix {
			out = append(out, l)
		}
	}
	return out
}

func (s *fakeSite) Screenshot(context.Context) ([]byte, error) { return []byte("listing"), nil }

func (s *fakeSite) EntityHandles(context.Context) ([]crawler.Handle, error) {
	s.log = append(s.log, "handles")
	names := make([]string, 0, len(s.entities))
	if s.passes != nil {
		idx := min(s.passIdx, len(s.passes)-1)
		s.passIdx++
		names = append(names, s.passes[idx]...)
	} else {
		for _, e := range s.entities {
			names = append(names, e.name)
		}
	}
	out := make([]crawler.Handle, 0, len(names))
	for _, n := range names {
		out = append(out, s.entity(n))
	}
	return out, nil
}

func (s *fakeSite) DisplayName(_ context.Context, h crawler.Handle) (string, error) {
	return h.(*fakeEntity).name, nil
}

func (s *fakeSite) Activate(_ context.Context, h crawler.Handle) (crawler.EntityPage, error) {
	e := h.(*fakeEntity)
	s.log = append(s.log, "activate:"+e.name)
	if e.activateErr != nil {
		return nil, e.activateErr
	}
	return &fakeEntityPage{site: s, entity: e}, nil
}

func (s *fakeSite) OpenParams(_ context.Context, h crawler.Handle) (crawler.ParamsPage, bool, error) {
	e := h.(*fakeEntity)
	if e.table == nil && e.tableErr == nil {
		return nil, false, nil
	}
	s.log = append(s.log, "params:"+e.name)
	return &fakeParamsPage{entity: e}, true, nil
}

func (s *fakeSite) ScrollMetric(context.Context) (int64, error) {
	idx := min(s.heightIdx, len(s.heights)-1)
	s.heightIdx++
	return s.heights[idx], nil
}

func (s *fakeSite) TriggerScroll(context.Context) error {
	s.log = append(s.log, "scroll")
	return nil
}

type fakeEntityPage struct {
	site   *fakeSite
	entity *fakeEntity
}

func (p *fakeEntityPage) Screenshot(context.Context) ([]byte, error) { return []byte("entity"), nil }

func (p *fakeEntityPage) OpenSection(context.Context, string) (crawler.ItemList, bool, error) {
	if p.entity.noSection {
		return nil, false, nil
	}
	return &fakeItemList{site: p.site, entity: p.entity}, true, nil
}

func (p *fakeEntityPage) Close() error { return nil }

type fakeItemRef struct {
	page int
	idx  int
}

type fakeItemList struct {
	site   *fakeSite
	entity *fakeEntity
	page   int
}

func (l *fakeItemList) Screenshot(context.Context) ([]byte, error) { return []byte("list"), nil }

func (l *fakeItemList) Items(context.Context) ([]crawler.Handle, error) {
	if err := l.entity.itemsErr[l.page+1]; err != nil {
		return nil, err
	}
	if l.page >= len(l.entity.pages) {
		return nil, nil
	}
	out := make([]crawler.Handle, 0, len(l.entity.pages[l.page]))
	for i := range l.entity.pages[l.page] {
		out = append(out, fakeItemRef{page: l.page, idx: i})
	}
	return out, nil
}

func (l *fakeItemList) OpenItem(_ context.Context, h crawler.Handle) (crawler.LeafPage, error) {
	ref := h.(fakeItemRef)
	it := l.entity.pages[ref.page][ref.idx]
	l.site.log = append(l.site.log, fmt.Sprintf("open:%s/%s", l.entity.name, crawler.ItemID(ref.page+1, ref.idx+1)))
	if it.panics {
		panic("stale element reference")
	}
	if it.openErr != nil {
		return nil, it.openErr
	}
	return &fakeLeaf{entity: l.entity.name, item: it}, nil
}

func (l *fakeItemList) NextPage(context.Context) (bool, error) {
	if l.entity.nextErr != nil {
		return false, l.entity.nextErr
	}
	if l.page+1 >= len(l.entity.pages) {
		return false, nil
	}
	l.page++
	return true, nil
}

func (l *fakeItemList) Close() error { return nil }

type fakeLeaf struct {
	entity string
	item   fakeItem
}

func (f *fakeLeaf) Screenshot(context.Context) ([]byte, error) { return []byte("leaf"), nil }

func (f *fakeLeaf) Snapshot(context.Context) (crawler.LeafSnapshot, error) {
	snap := crawler.LeafSnapshot{
		Subjects: []string{f.entity + " review"},
		Labels:   f.item.labels,
		Values:   f.item.values,
	}
	if f.item.author != "" {
		snap.Authors = []string{f.item.author}
	}
	return snap, nil
}

func (f *fakeLeaf) Close() error { return nil }

type fakeParamsPage struct {
	entity *fakeEntity
}

func (p *fakeParamsPage) Screenshot(context.Context) ([]byte, error) { return []byte("params"), nil }

func (p *fakeParamsPage) Table(context.Context) (crawler.TableSnapshot, error) {
	if p.entity.tableErr != nil {
		return crawler.TableSnapshot{}, p.entity.tableErr
	}
	return *p.entity.table, nil
}

func (p *fakeParamsPage) Close() error { return nil }

// reviewsOnlyListing hides OpenParams.
type reviewsOnlyListing struct {
	crawler.Listing
}

type recordingCapturer struct {
	units []string
}

func (c *recordingCapturer) Capture(ctx context.Context, src crawler.Screenshotter, unit string) (string, error) {
	if _, err := src.Screenshot(ctx); err != nil {
		return "", err
	}
	c.units = append(c.units, unit)
	return "mem://" + unit, nil
}

type recordingEmitter struct {
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.events = append(r.events, evt)
}

// failingBackend loads an empty ledger and rejects every write.
type failingBackend struct{}

func (failingBackend) Read(context.Context) ([]byte, error) { return nil, nil }
func (failingBackend) Write(context.Context, []byte) error  { return errors.New("disk full") }
func (failingBackend) Location() string                     { return "failing" }
