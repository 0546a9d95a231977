package utils_test

import (
	"context"
	"fmt"
	"regexp"

	"github.com/airbusgeo/terrainfetch/internal/utils"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Temporary error", func() {
	var err error

	var (
		itShouldReturnATemporaryError = func() {
			It("it should return a temporary error", func() {
				Expect(utils.Temporary(err)).To(BeTrue())
			})
		}
		itShouldReturnAPermanentError = func() {
			It("it should return a permanent error", func() {
				Expect(utils.Temporary(err)).To(BeFalse())
			})
		}
	)

	Describe("Wrapped temporary", func() {
		JustBeforeEach(func() {
			err = fmt.Errorf("temporary err :%w", utils.MakeTemporary(fmt.Errorf("Temporary")))
		})
		itShouldReturnATemporaryError()
	})

	Describe("Formatted temporary", func() {
		JustBeforeEach(func() {
			err = fmt.Errorf("permanent err :%v", utils.MakeTemporary(fmt.Errorf("Temporary")))
		})
		itShouldReturnAPermanentError()
	})

	Describe("Deadline exceeded", func() {
		JustBeforeEach(func() {
			err = fmt.Errorf("GET: %w", context.DeadlineExceeded)
		})
		itShouldReturnATemporaryError()
	})

	Describe("Server error status", func() {
		JustBeforeEach(func() {
			err = fmt.Errorf("download: %w", utils.HTTPStatusError{Method: "GET", URL: "http://x", StatusCode: 503})
		})
		itShouldReturnATemporaryError()
	})

	Describe("Not found status", func() {
		JustBeforeEach(func() {
			err = utils.HTTPStatusError{Method: "HEAD", URL: "http://x", StatusCode: 404}
		})
		itShouldReturnAPermanentError()

		It("should describe the request", func() {
			Expect(err.Error()).To(Equal("HEAD http://x: unexpected status 404"))
		})
	})

	Describe("nil", func() {
		JustBeforeEach(func() {
			err = utils.MakeTemporary(nil)
		})
		itShouldReturnAPermanentError()
	})
})

var _ = Describe("Merge error", func() {
	var err error

	var tmpErr = utils.MakeTemporary(fmt.Errorf("Temporary"))
	var fatalErr = fmt.Errorf("Fatal")

	var (
		itShouldReturnNil = func() {
			It("it should return nil", func() {
				Expect(err).To(BeNil())
			})
		}
		itShouldReturnATemporaryError = func() {
			It("it should return a temporary error", func() {
				Expect(utils.Temporary(err)).To(BeTrue())
			})
		}
		itShouldReturnAPermanentError = func() {
			It("it should return a permanent error", func() {
				Expect(err).NotTo(BeNil())
				Expect(utils.Temporary(err)).To(BeFalse())
			})
		}
	)

	Describe("nil then err", func() {
		JustBeforeEach(func() {
			err = utils.MergeErrors(false, nil, fatalErr)
		})
		It("it should return the error", func() {
			Expect(err).To(Equal(fatalErr))
		})
	})

	Describe("Temporary then fatal, priority to temporary", func() {
		JustBeforeEach(func() {
			err = utils.MergeErrors(false, tmpErr, fatalErr)
		})
		itShouldReturnATemporaryError()
	})

	Describe("Temporary then fatal then nil, priority to temporary", func() {
		JustBeforeEach(func() {
			err = utils.MergeErrors(false, tmpErr, fatalErr, nil)
		})
		itShouldReturnNil()
	})

	Describe("Temporary then fatal then nil, priority to fatal", func() {
		JustBeforeEach(func() {
			err = utils.MergeErrors(true, tmpErr, fatalErr, nil)
		})
		itShouldReturnAPermanentError()
	})

	Describe("Fatal then temporary, priority to temporary", func() {
		JustBeforeEach(func() {
			err = utils.MergeErrors(false, fatalErr, tmpErr)
		})
		itShouldReturnATemporaryError()
	})
})

var _ = Describe("ErrWaitGroup", func() {
	It("should collect every error", func() {
		g := utils.ErrWaitGroup{}
		for i := 0; i < 10; i++ {
			i := i
			g.Go(func() error {
				if i%2 == 0 {
					return fmt.Errorf("unit %d", i)
				}
				return nil
			})
		}
		Expect(g.Wait()).To(HaveLen(5))
	})
})

var _ = Describe("Names", func() {
	It("should extract the file name of an url", func() {
		Expect(utils.URLFileName("https://example.com/dem/N40W010.tif?token=a")).To(Equal("N40W010.tif"))
		Expect(utils.URLFileName("https://example.com/a/b.zip#frag")).To(Equal("b.zip"))
		Expect(utils.URLFileName("gs://bucket/dir/tile.tif")).To(Equal("tile.tif"))
	})

	It("should split extensions", func() {
		Expect(utils.TrimExt("/tmp/a/W010N40.TIF")).To(Equal("W010N40"))
		Expect(utils.Ext("/tmp/a/W010N40.TIF")).To(Equal("tif"))
		Expect(utils.Ext("/tmp/a/noext")).To(Equal(""))
	})

	It("should find named groups", func() {
		groups, err := utils.FindRegexGroups(regexp.MustCompile(`_x(?P<X>\d+)_y(?P<Y>\d+)`), "tile_x3_y4.png")
		Expect(err).To(BeNil())
		Expect(groups).To(Equal(map[string]string{"X": "3", "Y": "4"}))

		_, err = utils.FindRegexGroups(regexp.MustCompile(`_x(?P<X>\d+)`), "tile.png")
		Expect(err).NotTo(BeNil())
	})

	It("should join urls", func() {
		Expect(utils.URLJoin("https://example.com/tiles/", "12", "3", "4.png")).To(Equal("https://example.com/tiles/12/3/4.png"))
	})
})
