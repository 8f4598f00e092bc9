package stats

// Dickey-Fuller critical-value table (with constant), standard MacKinnon-
// style approximations, keyed by sample size. Each row is the critical
// t-statistic at the 1%, 5% and 10% significance levels. Linearly
// interpolated by sample size between the table's anchor points; outside
// the table's range, the nearest anchor is used.
var dfSampleSizes = []int{25, 50, 100, 250, 500}

var dfCritical = [][3]float64{
	{-3.75, -3.00, -2.63}, // n=25
	{-3.58, -2.93, -2.60}, // n=50
	{-3.51, -2.89, -2.58}, // n=100
	{-3.46, -2.88, -2.57}, // n=250
	{-3.44, -2.87, -2.57}, // n=500
}

// p-value buckets assigned once t is compared against the interpolated
// 1%/5%/10% critical values.
const (
	pBucketBelow1Pct  = 0.005
	pBucketBelow5Pct  = 0.025
	pBucketBelow10Pct = 0.075
	pBucketAbove10Pct = 0.5
)

// interpolateCrits linearly interpolates the three critical values for n
// samples, clamping to the table's endpoints outside its range.
func interpolateCrits(n int) (c1, c5, c10 float64) {
	if n <= dfSampleSizes[0] {
		return dfCritical[0][0], dfCritical[0][1], dfCritical[0][2]
	}
	last := len(dfSampleSizes) - 1
	if n >= dfSampleSizes[last] {
		return dfCritical[last][0], dfCritical[last][1], dfCritical[last][2]
	}
	for i := 0; i < last; i++ {
		lo, hi := dfSampleSizes[i], dfSampleSizes[i+1]
		if n >= lo && n <= hi {
			frac := float64(n-lo) / float64(hi-lo)
			c1 = dfCritical[i][0] + frac*(dfCritical[i+1][0]-dfCritical[i][0])
			c5 = dfCritical[i][1] + frac*(dfCritical[i+1][1]-dfCritical[i][1])
			c10 = dfCritical[i][2] + frac*(dfCritical[i+1][2]-dfCritical[i][2])
			return c1, c5, c10
		}
	}
	return dfCritical[last][0], dfCritical[last][1], dfCritical[last][2]
}

// dfPValue maps a Dickey-Fuller t-statistic to an approximate p-value
// bucket for the null hypothesis of a unit root, using the interpolated
// critical-value table. More negative t (stronger rejection of the unit
// root) yields a smaller p-value bucket.
func dfPValue(t float64, n int) float64 {
	c1, c5, c10 := interpolateCrits(n)
	switch {
	case t <= c1:
		return pBucketBelow1Pct
	case t <= c5:
		return pBucketBelow5Pct
	case t <= c10:
		return pBucketBelow10Pct
	default:
		return pBucketAbove10Pct
	}
}
