package scan

import (
	"os/user"
	"strconv"
	"sync"
	"syscall"
)

// ownerCache resolves uids/gids to names exactly once per id, grounded
// on original_source/serac/index/models.py's uid_to_name/gid_to_name
// caches — falling back to the numeric id as a string when no /etc/passwd
// or /etc/group entry exists, matching the original's behavior.
type ownerCache struct {
	mu     sync.Mutex
	users  map[uint32]string
	groups map[uint32]string
}

func newOwnerCache() *ownerCache {
	return &ownerCache{
		users:  make(map[uint32]string),
		groups: make(map[uint32]string),
	}
}

func (c *ownerCache) userName(uid uint32) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name, ok := c.users[uid]; ok {
		return name
	}
	name := strconv.FormatUint(uint64(uid), 10)
	if u, err := user.LookupId(name); err == nil {
		name = u.Username
	}
	c.users[uid] = name
	return name
}

func (c *ownerCache) groupName(gid uint32) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name, ok := c.groups[gid]; ok {
		return name
	}
	name := strconv.FormatUint(uint64(gid), 10)
	if g, err := user.LookupGroupId(name); err == nil {
		name = g.Name
	}
	c.groups[gid] = name
	return name
}

// statOwnership extracts the uid/gid from a platform-specific stat
// struct. sysInfo is the value returned by fs.FileInfo.Sys().
func statOwnership(sysInfo any) (uid, gid uint32, ok bool) {
	stat, isStat := sysInfo.(*syscall.Stat_t)
	if !isStat {
		return 0, 0, false
	}
	return stat.Uid, stat.Gid, true
}
