package hpa

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vkngwrapper/pageslab/memutils/psset"
)

// Collector exports a pool's statistics to prometheus. Each collection takes a fresh snapshot.
type Collector struct {
	pool *Pool

	pageSlabs   *prometheus.Desc
	activePages *prometheus.Desc
	dirtyPages  *prometheus.Desc
	fullSlabs   *prometheus.Desc
	emptySlabs  *prometheus.Desc
	mappedSlabs *prometheus.Desc
	peakDemand  *prometheus.Desc
	purgePasses *prometheus.Desc
	purgedPages *prometheus.Desc
	hugifies    *prometheus.Desc
	dehugifies  *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

var hugeLabels = [psset.NHuge]string{"false", "true"}

// NewCollector creates a Collector whose metric names begin with namespace
func NewCollector(pool *Pool, namespace string, constLabels prometheus.Labels) *Collector {
	desc := func(name, help string, variableLabels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, variableLabels, constLabels)
	}

	return &Collector{
		pool: pool,

		pageSlabs:   desc("page_slabs", "Resident page slabs.", "huge"),
		activePages: desc("active_pages", "Pages handed out to callers.", "huge"),
		dirtyPages:  desc("dirty_pages", "Freed pages that have not been purged.", "huge"),
		fullSlabs:   desc("full_slabs", "Page slabs with every page active.", "huge"),
		emptySlabs:  desc("empty_slabs", "Page slabs with no active pages.", "huge"),
		mappedSlabs: desc("mapped_slabs", "Page slabs mapped from the backend."),
		peakDemand:  desc("peak_demand_pages", "Sum of each shard's peak active pages over its demand window."),
		purgePasses: desc("purge_passes_total", "Purge passes run."),
		purgedPages: desc("purged_pages_total", "Pages returned to the backend."),
		hugifies:    desc("hugifies_total", "Page slabs promoted to hugepages."),
		dehugifies:  desc("dehugifies_total", "Page slabs demoted from hugepages before purging."),
	}
}

// Collector returns a prometheus collector for the pool, with metrics under namespace
func (p *Pool) Collector(namespace string) *Collector {
	return NewCollector(p, namespace, nil)
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pageSlabs
	ch <- c.activePages
	ch <- c.dirtyPages
	ch <- c.fullSlabs
	ch <- c.emptySlabs
	ch <- c.mappedSlabs
	ch <- c.peakDemand
	ch <- c.purgePasses
	ch <- c.purgedPages
	ch <- c.hugifies
	ch <- c.dehugifies
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.pool.Stats()

	for huge := 0; huge < psset.NHuge; huge++ {
		slabs := &stats.PageSlabs.Slabs[huge]
		label := hugeLabels[huge]

		c.gauge(ch, c.pageSlabs, slabs.PageSlabs, label)
		c.gauge(ch, c.activePages, slabs.Active, label)
		c.gauge(ch, c.dirtyPages, slabs.Dirty, label)
		c.gauge(ch, c.fullSlabs, stats.PageSlabs.FullSlabs[huge].PageSlabs, label)
		c.gauge(ch, c.emptySlabs, stats.PageSlabs.EmptySlabs[huge].PageSlabs, label)
	}

	c.gauge(ch, c.mappedSlabs, stats.MappedSlabs)
	c.gauge(ch, c.peakDemand, stats.PeakDemand)
	ch <- prometheus.MustNewConstMetric(c.purgePasses, prometheus.CounterValue, float64(stats.NPurgePasses))
	ch <- prometheus.MustNewConstMetric(c.purgedPages, prometheus.CounterValue, float64(stats.NPurgedPages))
	ch <- prometheus.MustNewConstMetric(c.hugifies, prometheus.CounterValue, float64(stats.NHugifies))
	ch <- prometheus.MustNewConstMetric(c.dehugifies, prometheus.CounterValue, float64(stats.NDehugifies))
}

func (c *Collector) gauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, value int, labels ...string) {
	ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(value), labels...)
}
