package hub

// clientSet is a set of connections.
type clientSet map[*Client]struct{}

// index maps a key (channel, org) to the connections filed under it. Empty
// sets are removed so the map only holds live keys.
type index[K comparable] map[K]clientSet

func (ix index[K]) add(key K, c *Client) bool {
	set, ok := ix[key]
	if !ok {
		set = make(clientSet)
		ix[key] = set
	}
	if _, dup := set[c]; dup {
		return false
	}
	set[c] = struct{}{}
	return true
}

func (ix index[K]) remove(key K, c *Client) bool {
	set, ok := ix[key]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(ix, key)
	}
	return true
}

func (ix index[K]) get(key K) clientSet {
	return ix[key]
}

func (ix index[K]) count(key K) int {
	return len(ix[key])
}
