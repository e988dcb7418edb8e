package cache

// Dirty lists what changed in a Store since the last DrainDirty
type Dirty struct {
	Items          map[string]struct{}
	RemovedItems   map[string]struct{}
	Entries        map[string]struct{}
	RemovedEntries map[string]struct{}
	Contacts       map[string]struct{}
	Folders        bool
}

func newDirty() *Dirty {
	return &Dirty{
		Items:          make(map[string]struct{}),
		RemovedItems:   make(map[string]struct{}),
		Entries:        make(map[string]struct{}),
		RemovedEntries: make(map[string]struct{}),
		Contacts:       make(map[string]struct{}),
	}
}

func (d *Dirty) item(id string) {
	d.Items[id] = struct{}{}
	delete(d.RemovedItems, id)
}

func (d *Dirty) removeItem(id string) {
	d.RemovedItems[id] = struct{}{}
	delete(d.Items, id)
}

func (d *Dirty) entry(key string) {
	d.Entries[key] = struct{}{}
	delete(d.RemovedEntries, key)
}

func (d *Dirty) removeEntry(key string) {
	d.RemovedEntries[key] = struct{}{}
	delete(d.Entries, key)
}

func (d *Dirty) contact(id string) {
	d.Contacts[id] = struct{}{}
}

// Empty reports whether nothing changed
func (d *Dirty) Empty() bool {
	return len(d.Items) == 0 && len(d.RemovedItems) == 0 &&
		len(d.Entries) == 0 && len(d.RemovedEntries) == 0 &&
		len(d.Contacts) == 0 && !d.Folders
}

// DrainDirty returns the pending change set and starts a new one
func (s *Store) DrainDirty() *Dirty {
	s.check()
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.dirty
	s.dirty = newDirty()
	return d
}

// MarkDirty merges d back into the pending change set, for a flush that failed
func (s *Store) MarkDirty(d *Dirty) {
	s.check()
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range d.Items {
		if _, ok := s.dirty.RemovedItems[id]; !ok {
			s.dirty.Items[id] = struct{}{}
		}
	}
	for id := range d.RemovedItems {
		if _, ok := s.dirty.Items[id]; !ok {
			s.dirty.RemovedItems[id] = struct{}{}
		}
	}
	for key := range d.Entries {
		if _, ok := s.dirty.RemovedEntries[key]; !ok {
			s.dirty.Entries[key] = struct{}{}
		}
	}
	for key := range d.RemovedEntries {
		if _, ok := s.dirty.Entries[key]; !ok {
			s.dirty.RemovedEntries[key] = struct{}{}
		}
	}
	for id := range d.Contacts {
		s.dirty.Contacts[id] = struct{}{}
	}
	s.dirty.Folders = s.dirty.Folders || d.Folders
}
