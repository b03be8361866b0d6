package mapred

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/linemr/linemr/internal/script"
)

// shuffle groups mapped values by key. Keys iterate in order of first
// appearance; values within a key keep arrival order. The shuffle is only
// ever touched from the driver side, one goroutine at a time.
type shuffle struct {
	groups *orderedmap.OrderedMap[string, []script.Value]
}

func newShuffle() *shuffle {
	return &shuffle{groups: orderedmap.New[string, []script.Value]()}
}

// add appends the pair's value to its key's group, creating the group on
// first appearance.
func (s *shuffle) add(p script.Pair) {
	vals, _ := s.groups.Get(p.Key)
	s.groups.Set(p.Key, append(vals, p.Value))
}

func (s *shuffle) len() int {
	return s.groups.Len()
}

// drop releases a group once its reduction has been dispatched.
func (s *shuffle) drop(key string) {
	s.groups.Delete(key)
}
