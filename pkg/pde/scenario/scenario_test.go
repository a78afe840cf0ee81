/*
 * Copyright (c) 2020 Baidu, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package scenario

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/shadowvault/pde/pkg/pde/headervault"
	"github.com/shadowvault/pde/pkg/pde/keyvault"
	"github.com/shadowvault/pde/pkg/pde/mapper"
	"github.com/shadowvault/pde/pkg/pde/pages"
	"github.com/shadowvault/pde/pkg/pde/pdeerr"
	"github.com/shadowvault/pde/pkg/pde/probe"
	"github.com/shadowvault/pde/pkg/pde/randutil"
	"github.com/shadowvault/pde/pkg/pde/toolexec"
)

// withStubPath prepends a freshly built stub-tool bin dir to PATH for the
// duration of one spec, and points the losetup stub's detach search at
// scratchRoot.
func withStubPath(scratchRoot string) func() {
	binDir, err := os.MkdirTemp("", "pde-stub-bin")
	Expect(err).NotTo(HaveOccurred())
	Expect(installStubTools(binDir, scratchRoot)).To(Succeed())

	origPath := os.Getenv("PATH")
	origScratch := os.Getenv("SCRATCH_ROOT")
	os.Setenv("PATH", binDir+string(os.PathListSeparator)+origPath)
	os.Setenv("SCRATCH_ROOT", scratchRoot)

	return func() {
		os.Setenv("PATH", origPath)
		os.Setenv("SCRATCH_ROOT", origScratch)
		os.RemoveAll(binDir)
	}
}

var _ = Describe("allocation arithmetic (property 1, S1, S2)", func() {
	var (
		root    string
		invoker *toolexec.Invoker
		p       *probe.Probe
		store   *pages.Store
		ctx     context.Context
		cleanup func()
	)

	BeforeEach(func() {
		root = GinkgoT().TempDir()
		invoker = toolexec.New()
		p = probe.New(invoker)
		store = pages.New(root, 4<<20, invoker, p)
		ctx = context.Background()
		cleanup = withStubPath(root)
	})

	AfterEach(func() { cleanup() })

	It("creates exactly the requested page count within available space (S1)", func() {
		alloc, err := store.Allocate(ctx, 1<<30, 3, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(alloc.Pages).To(HaveLen(3))
		for _, page := range alloc.Pages {
			info, err := os.Stat(page.Path)
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Size()).To(Equal(int64(1 << 30)))
		}
	})

	It("raises InsufficientSpace before creating any file (S2, property 1)", func() {
		space, err := p.Statvfs(root)
		Expect(err).NotTo(HaveOccurred())
		free := space.AvailableBytes()

		hugePage := free + (1 << 30)
		_, err = store.Allocate(ctx, hugePage, 1, true)
		Expect(err).To(HaveOccurred())

		var insufficient *pdeerr.InsufficientSpace
		Expect(err).To(BeAssignableToTypeOf(insufficient))
		Expect(err.(*pdeerr.InsufficientSpace).Needed).To(Equal(hugePage))
		Expect(err.(*pdeerr.InsufficientSpace).Available).To(Equal(free))

		entries, err := os.ReadDir(root)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(BeEmpty())
	})
})

var _ = Describe("rediscovery idempotence and order recovery (properties 2, 3)", func() {
	var (
		root    string
		invoker *toolexec.Invoker
		p       *probe.Probe
		store   *pages.Store
		ctx     context.Context
		cleanup func()
	)

	BeforeEach(func() {
		root = GinkgoT().TempDir()
		invoker = toolexec.New()
		p = probe.New(invoker)
		store = pages.New(root, 4<<20, invoker, p)
		ctx = context.Background()
		cleanup = withStubPath(root)

		_, err := store.Allocate(ctx, 4<<20, 3, true)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() { cleanup() })

	It("yields an identical BackingSet on a second rediscovery (property 2)", func() {
		first, err := store.Rediscover(ctx, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Active()).To(BeTrue())

		second, err := store.Rediscover(ctx, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.LoopDevices).To(Equal(first.LoopDevices))
		Expect(len(second.Pages)).To(Equal(len(first.Pages)))
	})

	It("recovers the same stripe member order after a detach/reattach cycle (property 3)", func() {
		first, err := store.Rediscover(ctx, true)
		Expect(err).NotTo(HaveOccurred())

		_, err = store.Deactivate(ctx)
		Expect(err).NotTo(HaveOccurred())

		second, err := store.Rediscover(ctx, true)
		Expect(err).NotTo(HaveOccurred())

		Expect(second.LoopDevices).To(Equal(first.LoopDevices))
	})
})

var _ = Describe("key and header creation (S3, property 4)", func() {
	var (
		root    string
		invoker *toolexec.Invoker
		keys    *keyvault.Vault
		headers *headervault.Vault
		ctx     context.Context
		cleanup func()
	)

	const (
		keyfileSize = uint64(8192)
		keySize     = uint64(8192)
	)

	BeforeEach(func() {
		root = GinkgoT().TempDir()
		invoker = toolexec.New()
		keys = keyvault.New(root, invoker)
		headers = headervault.New(root, "/dev/md/test0", invoker, keys)
		ctx = context.Background()
		cleanup = withStubPath(root)
	})

	AfterEach(func() { cleanup() })

	It("creates the requested number of keys of the requested size (S3)", func() {
		created, err := keys.Create(ctx, 5, keyfileSize, keySize)
		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(HaveLen(5))

		fps, err := keys.List()
		Expect(err).NotTo(HaveOccurred())
		Expect(fps).To(HaveLen(5))
		for _, k := range created {
			info, err := os.Stat(k.Path)
			Expect(err).NotTo(HaveOccurred())
			Expect(uint64(info.Size())).To(Equal(keyfileSize))
		}
	})

	It("creates one header per key, each with offsets inside the documented ranges (S3)", func() {
		records, err := headers.Create(ctx, 5, keyfileSize, keySize)
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(5))

		names, err := headers.List()
		Expect(err).NotTo(HaveOccurred())
		Expect(names).To(HaveLen(5))

		for _, r := range records {
			Expect(r.KeyfileOffset).To(BeNumerically("<=", keyfileSize-keySize))
			Expect(r.Header.PayloadOffset).To(BeNumerically(">=", uint64(1<<30)/512))
			Expect(r.Header.PayloadOffset).To(BeNumerically("<=", uint64((1<<30)+(1<<20))/512))
		}
	})

	It("spreads payload offsets across the documented range with no gross over-representation (property 4)", func() {
		const (
			draws = 1000
			lo    = uint64(1 << 30 / 512)
			hi    = uint64((1<<30 + 1<<20) / 512)
		)
		counts := map[uint64]int{}
		for i := 0; i < draws; i++ {
			v := randutil.Uint64nBetween(lo, hi)
			Expect(v).To(BeNumerically(">=", lo))
			Expect(v).To(BeNumerically("<=", hi))
			counts[v]++
		}
		maxAllowed := (draws / (int(hi-lo) + 1)) + 50 // 1000/2049 (integer division: 0) plus slack for sampling noise
		for _, c := range counts {
			Expect(c).To(BeNumerically("<=", maxAllowed))
		}
	})
})

var _ = Describe("tuple correctness (S4, S5, property 5)", func() {
	var (
		root      string
		invoker   *toolexec.Invoker
		headerDir string
		keyPath   string
		m         *mapper.Mapper
		ctx       context.Context
		cleanup   func()
	)

	BeforeEach(func() {
		root = GinkgoT().TempDir()
		invoker = toolexec.New()
		headerDir = filepath.Join(root, ".h")
		Expect(os.MkdirAll(headerDir, 0o700)).To(Succeed())

		keyPath = filepath.Join(root, ".k", "key0")
		Expect(os.MkdirAll(filepath.Dir(keyPath), 0o700)).To(Succeed())
		Expect(os.WriteFile(keyPath, []byte("key-material"), 0o600)).To(Succeed())

		ctx = context.Background()
		cleanup = withStubPath(root)
		os.Setenv("PDE_EXPECT_OFFSET", "4096")
		os.Setenv("PDE_EXPECT_KEYFILE", keyPath)

		m = mapper.New("/dev/md/test0", "freedom", invoker)
	})

	AfterEach(func() {
		os.Unsetenv("PDE_EXPECT_OFFSET")
		os.Unsetenv("PDE_EXPECT_KEYFILE")
		cleanup()
	})

	It("rejects the recorded header at the wrong offset (S4)", func() {
		headerPath := filepath.Join(headerDir, "h0")
		Expect(os.WriteFile(headerPath, []byte("header"), 0o600)).To(Succeed())

		err := m.Open(ctx, headerPath, keyPath, 0, false)
		Expect(err).To(HaveOccurred())
		var wrongTuple *pdeerr.WrongTuple
		Expect(err).To(BeAssignableToTypeOf(wrongTuple))
		Expect(m.IsOpen()).To(BeFalse())
	})

	It("opens on the recorded correct offset (S5)", func() {
		headerPath := filepath.Join(headerDir, "h1")
		Expect(os.WriteFile(headerPath, []byte("header"), 0o600)).To(Succeed())

		err := m.Open(ctx, headerPath, keyPath, 4096, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.IsOpen()).To(BeTrue())
		Expect(m.DevicePath()).To(Equal("/dev/mapper/freedom"))
	})

	It("rejects the correct offset paired with the wrong key (property 5)", func() {
		headerPath := filepath.Join(headerDir, "h2")
		Expect(os.WriteFile(headerPath, []byte("header"), 0o600)).To(Succeed())

		wrongKeyPath := filepath.Join(root, ".k", "key1")
		Expect(os.WriteFile(wrongKeyPath, []byte("other-key-material"), 0o600)).To(Succeed())

		err := m.Open(ctx, headerPath, wrongKeyPath, 4096, false)
		Expect(err).To(HaveOccurred())
		var wrongTuple *pdeerr.WrongTuple
		Expect(err).To(BeAssignableToTypeOf(wrongTuple))
		Expect(m.IsOpen()).To(BeFalse())
	})
})

var _ = Describe("teardown (S6, property 6)", func() {
	var (
		root    string
		invoker *toolexec.Invoker
		p       *probe.Probe
		store   *pages.Store
		keys    *keyvault.Vault
		ctx     context.Context
		cleanup func()
	)

	BeforeEach(func() {
		root = GinkgoT().TempDir()
		invoker = toolexec.New()
		p = probe.New(invoker)
		store = pages.New(root, 4<<20, invoker, p)
		keys = keyvault.New(root, invoker)
		ctx = context.Background()
		cleanup = withStubPath(root)
	})

	AfterEach(func() { cleanup() })

	It("leaves every key file on disk when remove is called without confirmation (property 6)", func() {
		_, err := keys.Create(ctx, 2, 4096, 4096)
		Expect(err).NotTo(HaveOccurred())

		err = keys.Remove(false)
		Expect(err).To(HaveOccurred())
		var refused *pdeerr.RefusedUnconfirmed
		Expect(err).To(BeAssignableToTypeOf(refused))

		fps, err := keys.List()
		Expect(err).NotTo(HaveOccurred())
		Expect(fps).To(HaveLen(2))
	})

	It("fully tears down an active backing set, leaving the root empty (S6)", func() {
		_, err := store.Allocate(ctx, 4<<20, 2, true)
		Expect(err).NotTo(HaveOccurred())

		set, err := store.Rediscover(ctx, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(set.Active()).To(BeTrue())

		Expect(store.Remove(ctx)).To(Succeed())

		final, err := store.Rediscover(ctx, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(final.Pages).To(BeEmpty())

		entries, err := os.ReadDir(root)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(BeEmpty())
	})
})
