//go:build linux

package collector

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	cpuacctRoot  = "/sys/fs/cgroup/cpuacct/user.slice"
	memoryRoot   = "/sys/fs/cgroup/memory/user.slice"
	systemdRoot  = "/sys/fs/cgroup/systemd/user.slice"
	userSliceFmt = "user-%d.slice"
)

// discoverUIDs enumerates active user-<uid>.slice cgroups under the
// systemd hierarchy, per spec.md §4.1 step 1.
func discoverUIDs(minUID int) ([]int, error) {
	entries, err := os.ReadDir(systemdRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("collector: read %s: %w", systemdRoot, err)
	}

	var uids []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "user-") || !strings.HasSuffix(name, ".slice") {
			continue
		}
		uidStr := strings.TrimSuffix(strings.TrimPrefix(name, "user-"), ".slice")
		uid, err := strconv.Atoi(uidStr)
		if err != nil {
			continue
		}
		if uid < minUID {
			continue
		}
		uids = append(uids, uid)
	}
	return uids, nil
}

// cpuacctUsage reads cpuacct.usage_user and cpuacct.usage_sys (ns) for
// a uid's cgroup, per spec.md §4.1 step 2.
func cpuacctUsage(uid int) (userNS, sysNS uint64, err error) {
	dir := filepath.Join(cpuacctRoot, fmt.Sprintf(userSliceFmt, uid))
	userNS, err = readUintFile(filepath.Join(dir, "cpuacct.usage_user"))
	if err != nil {
		return 0, 0, err
	}
	sysNS, err = readUintFile(filepath.Join(dir, "cpuacct.usage_sys"))
	if err != nil {
		return 0, 0, err
	}
	return userNS, sysNS, nil
}

// memoryUsage reads total_rss + total_mapped_file from memory.stat, or
// the memsw equivalents when enabled, per spec.md §4.1 step 3.
func memoryUsage(uid int, memsw bool) (bytes uint64, err error) {
	dir := filepath.Join(memoryRoot, fmt.Sprintf(userSliceFmt, uid))
	statFile := "memory.stat"
	if memsw {
		statFile = "memory.memsw.stat"
	}
	f, err := os.Open(filepath.Join(dir, statFile))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var rss, mappedFile uint64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 2 {
			continue
		}
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "total_rss":
			rss = v
		case "total_mapped_file":
			mappedFile = v
		}
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	return rss + mappedFile, nil
}

// userCgroupProcs reads the list of pids in a uid's systemd cgroup.
func userCgroupProcs(uid int) ([]int, error) {
	path := filepath.Join(systemdRoot, fmt.Sprintf(userSliceFmt, uid), "cgroup.procs")
	return cgroupProcs(path)
}

func readUintFile(path string) (uint64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	return strconv.ParseUint(s, 10, 64)
}
